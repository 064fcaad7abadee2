package model

import (
	"fmt"
	"sort"
)

// GeneratorKind selects a ResNet generator depth.
type GeneratorKind int

const (
	ResNet9 GeneratorKind = iota + 1
	ResNet7
	ResNet3
)

type generatorVariant struct {
	name   string
	blocks int
}

var generatorVariants = map[GeneratorKind]generatorVariant{
	ResNet9: {name: "resnet_gen_9", blocks: 9},
	ResNet7: {name: "resnet_gen_7", blocks: 7},
	ResNet3: {name: "resnet_gen_3", blocks: 3},
}

// ParseGenerator resolves a configuration name such as "resnet_gen_9".
func ParseGenerator(name string) (GeneratorKind, error) {
	for k, v := range generatorVariants {
		if v.name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown generator %q (want one of %v)", name, GeneratorNames())
}

// GeneratorNames lists the accepted configuration names.
func GeneratorNames() []string {
	names := make([]string, 0, len(generatorVariants))
	for _, v := range generatorVariants {
		names = append(names, v.name)
	}
	sort.Strings(names)
	return names
}

func (k GeneratorKind) String() string {
	if v, ok := generatorVariants[k]; ok {
		return v.name
	}
	return fmt.Sprintf("GeneratorKind(%d)", int(k))
}

// Blocks returns the number of residual blocks.
func (k GeneratorKind) Blocks() int { return generatorVariants[k].blocks }

// CheckSize reports whether square images of the given size survive the
// two stride-2 downsamples and the reflection pads.
func (k GeneratorKind) CheckSize(size int) error {
	if size < 8 || size%4 != 0 {
		return fmt.Errorf("%s needs an image size that is a multiple of 4 and at least 8, got %d", k, size)
	}
	return nil
}

// NewGenerator builds the ResNet generator:
// c7s1-ngf, d2ngf, d4ngf, R4ngf x blocks, u2ngf, ungf, c7s1-3, tanh.
func NewGenerator(kind GeneratorKind, ngf int) (Module, error) {
	v, ok := generatorVariants[kind]
	if !ok {
		return nil, fmt.Errorf("model: unsupported generator kind %d", int(kind))
	}
	if ngf <= 0 {
		return nil, fmt.Errorf("model: ngf must be > 0 (got %d)", ngf)
	}
	net := Sequential{
		ReflectionPad(3),
		NewConv(3, ngf, 7, 1, 0),
		InstanceNorm(),
		ReLU(),
	}
	ch := ngf
	for i := 0; i < 2; i++ {
		net = append(net, NewConv(ch, ch*2, 3, 2, 1), InstanceNorm(), ReLU())
		ch *= 2
	}
	for i := 0; i < v.blocks; i++ {
		net = append(net, residualBlock(ch))
	}
	for i := 0; i < 2; i++ {
		net = append(net, NewConvTranspose(ch, ch/2, 3, 2, 1, 1), InstanceNorm(), ReLU())
		ch /= 2
	}
	net = append(net,
		ReflectionPad(3),
		NewConv(ch, 3, 7, 1, 0),
		Tanh(),
	)
	return net, nil
}

func residualBlock(ch int) *Residual {
	return &Residual{Body: Sequential{
		ReflectionPad(1),
		NewConv(ch, ch, 3, 1, 0),
		InstanceNorm(),
		ReLU(),
		ReflectionPad(1),
		NewConv(ch, ch, 3, 1, 0),
		InstanceNorm(),
	}}
}
