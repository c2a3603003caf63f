//go:build tinygo && baremetal

package block

import (
	"errors"
	"fmt"
	"io"
	"os"

	"machine"

	"tinygo.org/x/drivers/sdcard"
	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/fatfs"
)

// SD is a Source backed by a FAT filesystem on an SPI SD card.
type SD struct {
	card *sdcard.Device
	fat  *fatfs.FATFS
}

// NewSD configures the SD card on the given SPI bus and mounts its FAT
// filesystem. Removable media is never auto-formatted; a mount failure is
// returned to the caller.
func NewSD(bus *machine.SPI, sck, sdo, sdi, cs machine.Pin) (*SD, error) {
	card := sdcard.New(bus, sck, sdo, sdi, cs)
	if err := card.Configure(); err != nil {
		return nil, fmt.Errorf("block: sd configure: %w", err)
	}

	fat := fatfs.New(&card).Configure(&fatfs.Config{SectorSize: fatfs.SectorSize})
	if err := fat.Mount(); err != nil {
		return nil, fmt.Errorf("block: sd mount: %w", err)
	}

	return &SD{card: &card, fat: fat}, nil
}

func (s *SD) Open(path string) (File, error) {
	if s == nil || s.fat == nil {
		return nil, errors.New("block: sd not ready")
	}

	info, err := s.fat.Stat(path)
	if err != nil {
		return nil, mapFatErr(path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("block: open %s: %w", path, ErrNotFound)
	}

	f, err := s.fat.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return nil, mapFatErr(path, err)
	}

	return &sdFile{f: f, size: info.Size()}, nil
}

type sdFile struct {
	f    tinyfs.File
	size int64
}

func (f *sdFile) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("block: sd read: %w", err)
	}
	return n, err
}

func (f *sdFile) Close() error {
	return f.f.Close()
}

func (f *sdFile) Size() int64 {
	return f.size
}

func mapFatErr(path string, err error) error {
	var fr fatfs.FileResult
	if errors.As(err, &fr) {
		switch fr {
		case fatfs.FileResultNoFile, fatfs.FileResultNoPath:
			return fmt.Errorf("block: open %s: %w", path, ErrNotFound)
		}
	}
	return fmt.Errorf("block: open %s: %w", path, err)
}
