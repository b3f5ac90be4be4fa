package Params

import (
	"fmt"
	"io"
)

// Params /**
// A table of named values grouped by the module that produces them. Each
// module carries a liveness counter ticked at 100ms; when a module stops
// resetting it, the module is declared dead, a one-shot timeout line is
// written to the console, and its parameters fall back to their defaults.
//
// The original firmware generated this table with textual macro expansion
// (MODULE_DEF/PARAM_DEF). Here it is a plain data-driven table built from
// descriptors at start-up. All calls come from the single tick loop.

type ParamType int

const (
	TypeBool ParamType = iota
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
)

// The counter value that marks a module as dead.
const deadCounter = 255

type ModuleDef struct {
	Name      string
	TimeoutMs uint32 // 0 = never times out once seen
}

type ParamDef struct {
	Module     string
	Name       string
	Type       ParamType
	Default    int32
	Hysteresis int32 // 0 = never reported
}

type Config struct {
	Modules []ModuleDef
	Params  []ParamDef
}

type module struct {
	def ModuleDef
	// Incremented at 100ms interval, 255 = dead. Starts dead so that
	// defaults apply until the source is first heard from.
	timeoutCounter uint8
}

type param struct {
	def      ParamDef
	mod      *module
	value    int32
	reported int32
}

type Table struct {
	modules  []*module
	params   []*param
	byModule map[string]*module
	byParam  map[string]*param
}

func key(moduleName string, paramName string) string {
	return moduleName + "_" + paramName
}

// New /**
// Build the table from descriptors. Every parameter must name a defined
// module.
func New(config Config) (*Table, error) {
	t := &Table{
		byModule: make(map[string]*module),
		byParam:  make(map[string]*param),
	}
	for _, md := range config.Modules {
		if _, ok := t.byModule[md.Name]; ok {
			return nil, fmt.Errorf("duplicate module %q", md.Name)
		}
		m := &module{def: md, timeoutCounter: deadCounter}
		t.modules = append(t.modules, m)
		t.byModule[md.Name] = m
	}
	for _, pd := range config.Params {
		m, ok := t.byModule[pd.Module]
		if !ok {
			return nil, fmt.Errorf("parameter %q references unknown module %q", pd.Name, pd.Module)
		}
		k := key(pd.Module, pd.Name)
		if _, ok := t.byParam[k]; ok {
			return nil, fmt.Errorf("duplicate parameter %q", k)
		}
		p := &param{def: pd, mod: m, value: pd.Default, reported: pd.Default}
		t.params = append(t.params, p)
		t.byParam[k] = p
	}
	return t, nil
}

// Set /**
// Write a value. Liveness is not touched; the source module must call
// ResetLiveness separately when it is heard from.
func (t *Table) Set(moduleName string, paramName string, value int32) {
	if p, ok := t.byParam[key(moduleName, paramName)]; ok {
		p.value = value
	}
}

func (t *Table) SetBool(moduleName string, paramName string, value bool) {
	if value {
		t.Set(moduleName, paramName, 1)
	} else {
		t.Set(moduleName, paramName, 0)
	}
}

func (t *Table) Get(moduleName string, paramName string) int32 {
	if p, ok := t.byParam[key(moduleName, paramName)]; ok {
		return p.value
	}
	return 0
}

// ResetLiveness /**
// Mark a module as just heard from.
func (t *Table) ResetLiveness(moduleName string) {
	if m, ok := t.byModule[moduleName]; ok {
		m.timeoutCounter = 0
	}
}

func (t *Table) Alive(moduleName string) bool {
	if m, ok := t.byModule[moduleName]; ok {
		return m.timeoutCounter != deadCounter
	}
	return false
}

// Tick100ms /**
// Advance every module liveness counter and clear values of dead modules
// back to their defaults. Shall be called at 100ms interval. The timeout
// line is emitted once, on the alive-to-dead transition.
func (t *Table) Tick100ms(console io.Writer) {
	for _, m := range t.modules {
		if m.def.TimeoutMs == 0 || m.timeoutCounter == deadCounter {
			continue
		}
		m.timeoutCounter++
		if uint32(m.timeoutCounter) > m.def.TimeoutMs/100 {
			m.timeoutCounter = deadCounter
			if console != nil {
				_, _ = fmt.Fprintf(console, "-!- %s timed out\n", m.def.Name)
			}
		}
	}
	for _, p := range t.params {
		if p.mod.timeoutCounter == deadCounter {
			p.value = p.def.Default
		}
	}
}

func (p *param) changed() bool {
	if p.def.Type == TypeBool {
		return p.value != p.reported
	}
	diff := p.value - p.reported
	if diff < 0 {
		diff = -diff
	}
	return diff >= p.def.Hysteresis
}

// ReportIfChanged /**
// Write a line for every reportable parameter that has moved by at least
// its hysteresis since it was last reported.
func (t *Table) ReportIfChanged(console io.Writer) {
	for _, p := range t.params {
		if p.def.Hysteresis == 0 {
			continue
		}
		if p.changed() {
			p.reported = p.value
			p.report(console)
		}
	}
}

// ReportAll /**
// Write every parameter value, reportable or not.
func (t *Table) ReportAll(console io.Writer) {
	for _, p := range t.params {
		p.report(console)
	}
}

func (p *param) report(console io.Writer) {
	if console == nil {
		return
	}
	if p.def.Type == TypeBool {
		_, _ = fmt.Fprintf(console, ">> %s_%s = %t\n", p.def.Module, p.def.Name, p.value != 0)
	} else {
		_, _ = fmt.Fprintf(console, ">> %s_%s = %d\n", p.def.Module, p.def.Name, p.value)
	}
}
