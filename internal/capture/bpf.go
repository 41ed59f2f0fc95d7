package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// compileFilter compiles a tcpdump-style expression for linkType.
func compileFilter(linkType layers.LinkType, snapLen int, expr string) ([]bpf.RawInstruction, error) {
	pcapBpf, err := pcap.CompileBPFFilter(linkType, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter %q: %w", expr, err)
	}

	raw := make([]bpf.RawInstruction, len(pcapBpf))
	for i, ins := range pcapBpf {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// ValidateFilter reports whether expr compiles for Ethernet frames.
func ValidateFilter(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := compileFilter(layers.LinkTypeEthernet, 65535, expr)
	return err
}

// filterVM evaluates a compiled filter in user space.
type filterVM struct {
	vm *bpf.VM
}

func newFilterVM(linkType layers.LinkType, snapLen int, expr string) (*filterVM, error) {
	raw, err := compileFilter(linkType, snapLen, expr)
	if err != nil {
		return nil, err
	}
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("BPF filter %q uses instructions the VM cannot run", expr)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("failed to load BPF filter %q: %w", expr, err)
	}
	return &filterVM{vm: vm}, nil
}

// match reports whether the filter accepts the frame.
func (f *filterVM) match(data []byte) bool {
	n, err := f.vm.Run(data)
	return err == nil && n > 0
}
