package pins

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DefaultGPIORoot is the sysfs GPIO class directory.
const DefaultGPIORoot = "/sys/class/gpio"

// GPIOBackend drives sysfs GPIO lines. The line number of a pin is its
// address (the chip base) plus its index.
type GPIOBackend struct {
	Fs   afero.Fs
	Root string
}

// NewGPIOBackend returns a backend over the host sysfs tree.
func NewGPIOBackend() *GPIOBackend {
	return &GPIOBackend{Fs: afero.NewOsFs(), Root: DefaultGPIORoot}
}

func (b *GPIOBackend) Open(s Spec) (Pin, error) {
	line := int(s.Address) + int(s.Index)
	p := &gpioPin{
		name: s.Name,
		fs:   b.Fs,
		dir:  path.Join(b.Root, "gpio"+strconv.Itoa(line)),
	}
	exists, err := afero.DirExists(b.Fs, p.dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := afero.WriteFile(b.Fs, path.Join(b.Root, "export"), []byte(strconv.Itoa(line)), 0o200); err != nil {
			return nil, fmt.Errorf("unable to export gpio %d: %w", line, err)
		}
	}
	if err := afero.WriteFile(b.Fs, path.Join(p.dir, "direction"), []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("unable to set gpio %d as output: %w", line, err)
	}
	return p, nil
}

func (b *GPIOBackend) Close() error { return nil }

type gpioPin struct {
	name string
	fs   afero.Fs
	dir  string
}

func (p *gpioPin) Name() string { return p.name }

func (p *gpioPin) Set(high bool) error {
	v := "0"
	if high {
		v = "1"
	}
	f, err := p.fs.OpenFile(path.Join(p.dir, "value"), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *gpioPin) High() (bool, error) {
	b, err := afero.ReadFile(p.fs, path.Join(p.dir, "value"))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(b)) == "1", nil
}
