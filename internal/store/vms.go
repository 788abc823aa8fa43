package store

import (
	"sync"

	"github.com/ccnode/ccnode/internal/types"
)

// VMTable covers the VM/Instance/Program joined-table hierarchy and
// VmVersion (spec §3, §4.7).
type VMTable interface {
	PutInstance(i types.Instance) error
	GetInstance(itemHash string) (*types.Instance, bool)
	PutProgram(p types.Program) error
	GetProgram(itemHash string) (*types.Program, bool)
	// GetVM looks up either an instance or a program's common VM row.
	GetVM(itemHash string) (*types.VM, bool)
	Delete(itemHash string) error

	GetVersion(vmHash string) (*types.VmVersion, bool)
	PutVersion(v types.VmVersion) error

	GetBalance(address string, chain types.Chain, dapp string) (*types.Balance, bool)
	PutBalance(b types.Balance) error
}

type vmTable struct {
	s *memStore

	mu        sync.RWMutex
	instances map[string]types.Instance
	programs  map[string]types.Program
	versions  map[string]types.VmVersion
	balances  map[string]types.Balance // address|chain|dapp
}

func newVMTable(s *memStore) *vmTable {
	return &vmTable{
		instances: make(map[string]types.Instance),
		programs:  make(map[string]types.Program),
		versions:  make(map[string]types.VmVersion),
		balances:  make(map[string]types.Balance),
		s:         s,
	}
}

func (t *vmTable) PutInstance(i types.Instance) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.instances[i.ItemHash] = i
	return nil
}

func (t *vmTable) GetInstance(itemHash string) (*types.Instance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.instances[itemHash]
	if !ok {
		return nil, false
	}
	return &i, true
}

func (t *vmTable) PutProgram(p types.Program) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.programs[p.ItemHash] = p
	return nil
}

func (t *vmTable) GetProgram(itemHash string) (*types.Program, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.programs[itemHash]
	if !ok {
		return nil, false
	}
	return &p, true
}

func (t *vmTable) GetVM(itemHash string) (*types.VM, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i, ok := t.instances[itemHash]; ok {
		return &i.VM, true
	}
	if p, ok := t.programs[itemHash]; ok {
		return &p.VM, true
	}
	return nil, false
}

func (t *vmTable) Delete(itemHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.instances, itemHash)
	delete(t.programs, itemHash)
	return nil
}

func (t *vmTable) GetVersion(vmHash string) (*types.VmVersion, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.versions[vmHash]
	if !ok {
		return nil, false
	}
	return &v, true
}

func (t *vmTable) PutVersion(v types.VmVersion) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions[v.VMHash] = v
	return nil
}

func balanceKey(address string, chain types.Chain, dapp string) string {
	return address + "|" + string(chain) + "|" + dapp
}

func (t *vmTable) GetBalance(address string, chain types.Chain, dapp string) (*types.Balance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.balances[balanceKey(address, chain, dapp)]
	if !ok {
		return nil, false
	}
	return &b, true
}

func (t *vmTable) PutBalance(b types.Balance) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[balanceKey(b.Address, b.Chain, b.Dapp)] = b
	return nil
}
