package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/rtpscope/internal/core"
)

// ListSources returns the capture interfaces of this host followed by the
// capture files found in dir. An interface enumeration failure is returned
// together with whatever files were found.
func ListSources(dir string) ([]core.Source, error) {
	var (
		sources []core.Source
		errs    []error
	)

	devs, err := pcap.FindAllDevs()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list interfaces: %w", err))
	}
	for _, d := range devs {
		sources = append(sources, core.Source{Kind: core.SourceInterface, Name: d.Name})
	}

	files, err := listFiles(dir)
	if err != nil {
		errs = append(errs, err)
	}
	sources = append(sources, files...)

	return sources, errors.Join(errs...)
}

// listFiles returns the *.pcap and *.pcapng files directly under dir,
// sorted by name. A missing directory is not an error.
func listFiles(dir string) ([]core.Source, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list capture files: %w", err)
	}

	var files []core.Source
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pcap", ".pcapng":
			files = append(files, core.Source{Kind: core.SourceFile, Name: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
