package handlers

import (
	"context"
	"fmt"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// vmHandler implements both INSTANCE and PROGRAM content types (spec §4.7):
// they share the VM joined-table hierarchy, volume-dependency checks, and
// amend-chain replace semantics, differing only in which sub-row
// (Instance.Rootfs vs. Program's three volumes) gets populated.
type vmHandler struct {
	store store.Store
	costs CostEngine
	files FileDependencies
}

// CheckDependencies verifies every referenced volume resolves, either to a
// FileTag or to content the file subsystem holds locally or can fetch
// (spec §4.7: "every referenced volume ref must resolve ... else
// VM_VOLUME_NOT_FOUND").
func (h *vmHandler) CheckDependencies(ctx context.Context, tx store.Tx, msg *types.Message) error {
	for _, vol := range volumeRefs(msg) {
		if vol == "" {
			continue
		}
		if _, ok := h.store.Files().GetTag(vol); ok {
			continue
		}
		ok, err := h.files.Resolve(ctx, vol)
		if err != nil {
			return err
		}
		if !ok {
			return types.NewPermanentWithCode(types.KindInvalidContent, types.ErrCodeVMVolumeNotFound,
				fmt.Sprintf("volume ref %s not found", vol))
		}
	}
	return nil
}

// CheckPermissions validates the `replaces` amend-chain constraint and the
// persistent-volume size-growth-only constraint (spec §4.7).
func (h *vmHandler) CheckPermissions(ctx context.Context, tx store.Tx, msg *types.Message) error {
	if replaces, _ := msg.Content["replaces"].(string); replaces != "" {
		prior, ok := h.store.VMs().GetVM(replaces)
		if !ok {
			return types.NewPermanentWithCode(types.KindInvalidContent, types.ErrCodeVMRefNotFound,
				fmt.Sprintf("replaced VM %s not found", replaces))
		}
		if prior.Owner != msg.Sender {
			return types.NewPermanentWithCode(types.KindPermissionDenied, types.ErrCodeVMUpdateNotAllowed,
				"replaced VM not owned by sender")
		}
		version, ok := h.store.VMs().GetVersion(replaces)
		if ok && version.CurrentVersion != replaces {
			return types.NewPermanentWithCode(types.KindInvalidContent, types.ErrCodeVMUpdateWrongVersion,
				"replaces does not target the current amend-chain version")
		}
	}

	for _, vol := range machineVolumes(msg) {
		if vol.Persistence != types.VolumePersistent || vol.ParentRef == "" {
			continue
		}
		parent, ok := h.store.Files().GetStoredFile(vol.ParentRef)
		if ok && uint64(parent.Size) > vol.SizeMiB*1024*1024 {
			return types.NewPermanentWithCode(types.KindInvalidContent, types.ErrCodeVMVolumeParentTooLarge,
				fmt.Sprintf("persistent volume %s smaller than its parent", vol.Mount))
		}
	}

	if h.costs != nil && types.PaymentType(stringField(msg.Content, "payment_type")) == types.PaymentHold {
		vm := vmFromMessage(msg)
		isProgram := msg.Type == types.MessageTypeProgram
		persistent := isProgram && boolField(msg.Content, "persistent")
		newCost := h.costs.EstimateHoldCost(&vm, isProgram, persistent, rootfsFromMessage(msg).SizeMiB)
		if err := h.costs.CheckHoldBalance(msg.Sender, msg.Chain, "", newCost); err != nil {
			return err
		}
	}
	return nil
}

// Process inserts the VM's Instance/Program sub-row, advances the amend
// chain's VmVersion, and materializes its billing rows via the cost engine
// (spec §4.7, §4.9).
func (h *vmHandler) Process(ctx context.Context, tx store.Tx, msg *types.Message) error {
	vm := vmFromMessage(msg)

	switch msg.Type {
	case types.MessageTypeInstance:
		rootfs := rootfsFromMessage(msg)
		if err := h.store.VMs().PutInstance(types.Instance{VM: vm, Rootfs: rootfs}); err != nil {
			return err
		}
	case types.MessageTypeProgram:
		prog := programFromMessage(msg, vm)
		if err := h.store.VMs().PutProgram(prog); err != nil {
			return err
		}
	}

	root := vm.ItemHash
	if vm.Replaces != "" {
		if v, ok := h.store.VMs().GetVersion(vm.Replaces); ok {
			root = v.VMHash
		} else {
			root = vm.Replaces
		}
	}
	if err := h.store.VMs().PutVersion(types.VmVersion{
		VMHash:         root,
		Owner:          vm.Owner,
		CurrentVersion: vm.ItemHash,
		LastUpdated:    msg.Time,
	}); err != nil {
		return err
	}

	if h.costs == nil {
		return nil
	}
	return h.costs.MaterializeCosts(ctx, tx, &vm, vm.Owner)
}

// Forget removes the VM's rows and its billed cost lines (spec §4.7 FORGET
// of an INSTANCE/PROGRAM).
func (h *vmHandler) Forget(ctx context.Context, tx store.Tx, target *types.Message, forgetHash string) error {
	if err := h.store.VMs().Delete(target.ItemHash); err != nil {
		return err
	}
	return h.store.Costs().DeleteForMessage(target.ItemHash)
}

func volumeRefs(msg *types.Message) []string {
	var out []string
	for _, vol := range machineVolumes(msg) {
		if vol.Ref != "" {
			out = append(out, vol.Ref)
		}
	}
	if rootfs := rootfsFromMessage(msg); rootfs.ParentRef != "" {
		out = append(out, rootfs.ParentRef)
	}
	for _, ref := range []string{
		stringField(mapField(msg.Content, "code_volume"), "ref"),
		stringField(mapField(msg.Content, "runtime_volume"), "ref"),
		stringField(mapField(msg.Content, "data_volume"), "ref"),
	} {
		if ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func machineVolumes(msg *types.Message) []types.MachineVolume {
	raw, _ := msg.Content["volumes"].([]any)
	out := make([]types.MachineVolume, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, types.MachineVolume{
			Mount:       stringField(m, "mount"),
			Persistence: types.VolumePersistence(stringField(m, "persistence")),
			Ref:         stringField(m, "ref"),
			UseLatest:   boolField(m, "use_latest"),
			SizeMiB:     uintField(m, "size_mib"),
			ParentRef:   stringField(m, "parent_ref"),
		})
	}
	return out
}

func vmFromMessage(msg *types.Message) types.VM {
	env, _ := msg.Content["environment"].(map[string]any)
	var keys []string
	if raw, ok := msg.Content["authorized_keys"].([]any); ok {
		for _, k := range raw {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
	}
	return types.VM{
		ItemHash:  msg.ItemHash,
		Owner:     msg.Sender,
		VCPUs:     uintField(msg.Content, "vcpus"),
		MemoryMiB: uintField(msg.Content, "memory"),
		Seconds:   uintField(msg.Content, "seconds"),
		Environment: types.ExecutionEnvironment{
			Reproducible: boolField(env, "reproducible"),
			Internet:     boolField(env, "internet"),
			AlephAPI:     boolField(env, "aleph_api"),
			SharedCache:  boolField(env, "shared_cache"),
		},
		CPUArch:        types.CPUArchitecture(stringField(msg.Content, "cpu_architecture")),
		Created:        msg.Time,
		Replaces:       stringField(msg.Content, "replaces"),
		AuthorizedKeys: keys,
		PaymentType:    types.PaymentType(stringField(msg.Content, "payment_type")),
		Volumes:        machineVolumes(msg),
	}
}

func rootfsFromMessage(msg *types.Message) types.RootfsVolume {
	rootfs, _ := msg.Content["rootfs"].(map[string]any)
	return types.RootfsVolume{
		ParentRef:   stringField(rootfs, "parent_ref"),
		SizeMiB:     uintField(rootfs, "size_mib"),
		Persistence: types.VolumePersistence(stringField(rootfs, "persistence")),
	}
}

func programFromMessage(msg *types.Message, vm types.VM) types.Program {
	code, _ := msg.Content["code_volume"].(map[string]any)
	runtime, _ := msg.Content["runtime_volume"].(map[string]any)
	prog := types.Program{
		VM:            vm,
		CodeVolume:    machineVolumeFromMap(code),
		RuntimeVolume: machineVolumeFromMap(runtime),
		ProgramType:   types.ProgramTypeCode,
		HTTPTrigger:   boolField(msg.Content, "http_trigger"),
		Persistent:    boolField(msg.Content, "persistent"),
	}
	if data, ok := msg.Content["data_volume"].(map[string]any); ok {
		v := machineVolumeFromMap(data)
		prog.DataVolume = &v
	}
	return prog
}

func machineVolumeFromMap(m map[string]any) types.MachineVolume {
	if m == nil {
		return types.MachineVolume{}
	}
	return types.MachineVolume{
		Mount:       stringField(m, "mount"),
		Persistence: types.VolumePersistence(stringField(m, "persistence")),
		Ref:         stringField(m, "ref"),
		UseLatest:   boolField(m, "use_latest"),
		SizeMiB:     uintField(m, "size_mib"),
		ParentRef:   stringField(m, "parent_ref"),
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func uintField(m map[string]any, key string) uint64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return uint64(v)
	case int:
		return uint64(v)
	case uint64:
		return v
	default:
		return 0
	}
}
