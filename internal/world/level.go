// Package world holds the loaded levels and persists them under the levels
// directory. Each level is a gzip block file plus a YAML properties file.
package world

import (
	"sync"
	"sync/atomic"
)

// Block ids used by the flat generator.
const (
	BlockAir   byte = 0
	BlockStone byte = 1
	BlockGrass byte = 2
	BlockDirt  byte = 3
)

// Spawn is a level's spawn point in block coordinates.
type Spawn struct {
	X   int   `yaml:"x"`
	Y   int   `yaml:"y"`
	Z   int   `yaml:"z"`
	Yaw uint8 `yaml:"yaw"`
}

// Properties is the metadata saved alongside the blocks.
type Properties struct {
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Length  int    `yaml:"length"`
	Spawn   Spawn  `yaml:"spawn"`
	Physics int    `yaml:"physics"`
	MOTD    string `yaml:"motd,omitempty"`
}

// Level is a loaded world.
type Level struct {
	name string

	mu     sync.RWMutex
	props  Properties
	blocks []byte

	changed atomic.Bool
}

func newLevel(name string, props Properties, blocks []byte) *Level {
	return &Level{name: name, props: props, blocks: blocks}
}

func (l *Level) Name() string { return l.name }

// Properties returns a copy of the level metadata.
func (l *Level) Properties() Properties {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.props
}

func (l *Level) index(x, y, z int) (int, bool) {
	p := l.props
	if x < 0 || y < 0 || z < 0 || x >= p.Width || y >= p.Height || z >= p.Length {
		return 0, false
	}
	return (y*p.Length+z)*p.Width + x, true
}

// Block returns the block at x,y,z, or air outside the level.
func (l *Level) Block(x, y, z int) byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index(x, y, z)
	if !ok {
		return BlockAir
	}
	return l.blocks[i]
}

// SetBlock changes one block. It reports false outside the level.
func (l *Level) SetBlock(x, y, z int, b byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index(x, y, z)
	if !ok {
		return false
	}
	if l.blocks[i] != b {
		l.blocks[i] = b
		l.changed.Store(true)
	}
	return true
}

// Changed reports whether the level has unsaved changes.
func (l *Level) Changed() bool { return l.changed.Load() }

// snapshot copies the state to write.
func (l *Level) snapshot() (Properties, []byte) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]byte, len(l.blocks))
	copy(out, l.blocks)
	return l.props, out
}

// GenerateFlat builds a flat level: stone, dirt, then one layer of grass at half height.
func GenerateFlat(name string, width, height, length int) *Level {
	blocks := make([]byte, width*height*length)
	surface := height / 2
	for y := 0; y < surface; y++ {
		b := BlockStone
		switch {
		case y == surface-1:
			b = BlockGrass
		case y >= surface-4:
			b = BlockDirt
		}
		layer := y * length * width
		for i := 0; i < length*width; i++ {
			blocks[layer+i] = b
		}
	}
	props := Properties{
		Width:  width,
		Height: height,
		Length: length,
		Spawn:  Spawn{X: width / 2, Y: surface + 1, Z: length / 2},
	}
	lvl := newLevel(name, props, blocks)
	lvl.changed.Store(true)
	return lvl
}
