package vkcore

import (
	"os"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/spirv"
)

type ShaderStage = hal.ShaderStage

const (
	StageVertex   = hal.StageVertex
	StageFragment = hal.StageFragment
	StageCompute  = hal.StageCompute
)

// ShaderModule is a SPIR-V module together with its reflected interface.
type ShaderModule struct {
	Device      *Device
	Description string
	HAL         hal.ShaderModule
	Reflection  *spirv.Module
}

// CreateShaderModule reflects code and hands it to the device.
func (d *Device) CreateShaderModule(code []uint32) (*ShaderModule, error) {
	m, err := spirv.Reflect(code)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidShader, err.Error())
	}
	if len(m.EntryPoints) == 0 {
		return nil, errors.Wrap(ErrInvalidShader, "module declares no entry point")
	}
	hm, err := d.HAL.CreateShaderModule(code)
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrInvalidShader), "create shader module")
	}
	return &ShaderModule{Device: d, Description: m.EntryPoints[0].Name, HAL: hm, Reflection: m}, nil
}

// CreateShaderModuleFromBytes accepts a module in either byte order.
func (d *Device) CreateShaderModuleFromBytes(data []byte) (*ShaderModule, error) {
	words, err := wordsOf(data)
	if err != nil {
		return nil, err
	}
	return d.CreateShaderModule(words)
}

func (d *Device) LoadShaderModuleFromFile(file string) (*ShaderModule, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	s, err := d.CreateShaderModuleFromBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", file)
	}
	s.Description = file
	return s, nil
}

// Stage selects an entry point of the module.
func (s *ShaderModule) Stage(entryPoint string) (Stage, error) {
	ep, ok := s.Reflection.EntryPoint(entryPoint)
	if !ok {
		return Stage{}, errors.Wrapf(ErrShaderInterfaceMismatch, "no entry point %q in %s", entryPoint, s.Description)
	}
	return Stage{Module: s, EntryPoint: entryPoint, entry: ep}, nil
}

// MustStage is Stage for modules known to declare the entry point.
func (s *ShaderModule) MustStage(entryPoint string) Stage {
	st, err := s.Stage(entryPoint)
	if err != nil {
		panic(err)
	}
	return st
}

func (s *ShaderModule) Destroy() {
	s.HAL.Destroy()
}

// Stage is one entry point of a shader module.
type Stage struct {
	Module     *ShaderModule
	EntryPoint string

	entry *spirv.EntryPoint
}

// Kind is the pipeline stage the entry point runs in.
func (s Stage) Kind() ShaderStage {
	if s.entry == nil {
		return 0
	}
	switch s.entry.Model {
	case spirv.ModelVertex:
		return StageVertex
	case spirv.ModelFragment:
		return StageFragment
	case spirv.ModelGLCompute:
		return StageCompute
	}
	return 0
}

func (s Stage) valid() bool { return s.Module != nil && s.entry != nil }

func (s Stage) halDesc() hal.StageDesc {
	return hal.StageDesc{Stage: s.Kind(), Module: s.Module.HAL, EntryPoint: s.EntryPoint}
}
