package progress

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadCache reads a boot-duration file: one "<fraction>:<status>" record
// per line, where the fraction is the point in the previous boot at
// which the status first appeared. A missing file is not an error.
func (p *Progress) LoadCache(path string) {
	f, err := os.Open(path)
	if err != nil {
		p.logger.Debug("no boot duration cache", "path", path, "error", err)
		return
	}
	defer f.Close()

	p.previous = p.previous[:0]
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fractionText, status, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fraction, err := strconv.ParseFloat(fractionText, 64)
		if err != nil {
			continue
		}
		p.previous = append(p.previous, &Message{Time: fraction, Text: status})
	}
	p.logger.Debug("boot duration cache loaded", "path", path, "records", len(p.previous))
}

// SaveCache writes this boot's records, each timestamp normalized to a
// fraction of the total run time. Disabled (duplicate) records are
// dropped. The write is atomic via temp-file-then-rename.
func (p *Progress) SaveCache(path string) error {
	total := p.Time()
	if total <= 0 {
		return nil
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write boot duration cache: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, m := range p.current {
		if m.Disabled {
			continue
		}
		fmt.Fprintf(w, "%.3f:%s\n", m.Time/total, m.Text)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write boot duration cache: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close boot duration cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename boot duration cache: %w", err)
	}
	return nil
}
