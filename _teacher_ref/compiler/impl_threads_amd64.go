package compiler

import "github.com/tetratelabs/wazero/internal/wazeroir"

func (c *amd64Compiler) compileAtomicLoad(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicLoad8(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicLoad16(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicStore(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicStore8(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicStore16(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicRMW(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicRMW8(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicRMW16(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicRMWCmpxchg(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicRMW8Cmpxchg(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicRMW16Cmpxchg(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicMemoryWait(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicMemoryNotify(o *wazeroir.UnionOperation) error {
	return nil
}

func (c *amd64Compiler) compileAtomicFence(o *wazeroir.UnionOperation) error {
	return nil
}
