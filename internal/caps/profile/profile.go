package profile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/capshim/internal/caps"
)

// Format is a profile file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var (
	ErrUnknownFormat = errors.New("profile: unknown format")
	ErrNoCamera      = errors.New("profile: camera not found")
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// Profile declares the capability values of a set of cameras.
type Profile struct {
	Cameras []*Camera `yaml:"cameras" toml:"cameras"`
}

// Camera is one capability set.
//
// ReportSize is what the capability object will claim to need. It accepts a
// non-negative integer, a negative integer (stored sign-extended, the way a
// 32-bit negative size reaches a 64-bit field) or a string in any base
// strconv understands, e.g. "0xFFFFFFFF80000100".
type Camera struct {
	ID         uint32            `yaml:"id" toml:"id"`
	Facing     uint32            `yaml:"facing" toml:"facing"`
	Name       string            `yaml:"name" toml:"name"`
	ReportSize interface{}       `yaml:"report_size" toml:"report_size"`
	Values     map[string]string `yaml:"values" toml:"values"`

	size uint64
}

// Index returns the camera index.
func (c *Camera) Index() caps.CameraIndex {
	return caps.CameraIndex{ID: c.ID, Facing: c.Facing}
}

// Size returns the decoded report size.
func (c *Camera) Size() uint64 {
	return c.size
}

// Capability returns a fresh capability object for one acquisition.
func (c *Camera) Capability() *Capability {
	return newCapability(c.Index(), c.size, c.Values)
}

// Load reads a profile file, choosing the format from its extension.
func Load(path string) (*Profile, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile.
func Parse(data []byte, format Format) (*Profile, error) {
	var p Profile
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("profile: decode yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("profile: decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	seen := make(map[caps.CameraIndex]string, len(p.Cameras))
	for i, c := range p.Cameras {
		if c == nil {
			return fmt.Errorf("profile: camera %d is empty", i)
		}
		if prev, ok := seen[c.Index()]; ok {
			return fmt.Errorf("profile: camera %d/%d declared twice (%q, %q)", c.ID, c.Facing, prev, c.Name)
		}
		seen[c.Index()] = c.Name

		size, err := decodeSize(c.ReportSize)
		if err != nil {
			return fmt.Errorf("profile: camera %d report_size: %w", c.ID, err)
		}
		c.size = size
		for k, v := range c.Values {
			if k == "" || strings.ContainsAny(k, "=\n") {
				return fmt.Errorf("profile: camera %d: invalid value key %q", c.ID, k)
			}
			if strings.Contains(v, "\n") {
				return fmt.Errorf("profile: camera %d: value %q spans lines", c.ID, k)
			}
		}
	}
	return nil
}

// Camera returns the camera declared for idx.
func (p *Profile) Camera(idx caps.CameraIndex) (*Camera, bool) {
	for _, c := range p.Cameras {
		if c.Index() == idx {
			return c, true
		}
	}
	return nil, false
}

// Lookup returns the first camera with the given id, whatever its facing.
func (p *Profile) Lookup(id uint32) (*Camera, bool) {
	for _, c := range p.Cameras {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Capability returns a fresh capability object for idx.
func (p *Profile) Capability(idx caps.CameraIndex) (*Capability, error) {
	c, ok := p.Camera(idx)
	if !ok {
		return nil, fmt.Errorf("%w: %d/%d", ErrNoCamera, idx.ID, idx.Facing)
	}
	return c.Capability(), nil
}

func decodeSize(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case string:
		if strings.HasPrefix(n, "-") {
			s, err := strconv.ParseInt(n, 0, 64)
			return uint64(s), err
		}
		return strconv.ParseUint(n, 0, 64)
	case int:
		return uint64(int64(n)), nil
	case int64:
		return uint64(n), nil
	case uint64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxUint64 {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		if n < 0 {
			return uint64(int64(n)), nil
		}
		return uint64(n), nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
