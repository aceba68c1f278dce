package speedwire

import (
	"embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

const (
	CommandLogin  = "login"
	CommandLogoff = "logoff"
)

type Format string

const (
	FormatInt     Format = "int"
	FormatUint    Format = "uint"
	FormatVersion Format = "version"
)

// scan the value list instead of picking a fixed index
const IdxScan = 0xFF

type Sensor struct {
	Key    string
	Name   string
	Factor float64
	Unit   string
	Mapper bool
}

// SensorTarget is either Single or ByRegisterIndex.
type SensorTarget interface {
	Resolve(registerIdx int) (*Sensor, bool)
	Sensors() []*Sensor
}

type Single struct {
	Sensor *Sensor
}

func (s Single) Resolve(int) (*Sensor, bool) {
	return s.Sensor, true
}

func (s Single) Sensors() []*Sensor {
	return []*Sensor{s.Sensor}
}

// ByRegisterIndex multiplexes several sensors under one response code,
// selected by the ordinal of the register within the response.
type ByRegisterIndex []*Sensor

func (s ByRegisterIndex) Resolve(registerIdx int) (*Sensor, bool) {
	if registerIdx < 0 || registerIdx >= len(s) {
		return nil, false
	}
	return s[registerIdx], true
}

func (s ByRegisterIndex) Sensors() []*Sensor {
	return s
}

type Rule struct {
	Command   string
	Format    Format
	Idx       int
	Mask      uint32
	HasMask   bool
	Overwrite bool
	// nil when the code is known but carries no sensor
	Target SensorTarget
}

type Command struct {
	Name     string
	Code     uint32
	Response uint32
	First    uint32
	Last     uint32
}

type Catalog struct {
	codes        []string
	responses    map[string][]Rule
	commands     map[string]Command
	commandOrder []string
	obis         map[string]*Sensor
	obisOrder    []string
	tags         map[uint32]string
}

type yamlSensor struct {
	Key    string  `yaml:"key"`
	Name   string  `yaml:"name"`
	Factor float64 `yaml:"factor"`
	Unit   string  `yaml:"unit"`
	Mapper string  `yaml:"mapper"`
}

type yamlRule struct {
	Cmd       string       `yaml:"cmd"`
	Format    string       `yaml:"format"`
	Idx       int          `yaml:"idx"`
	Mask      *uint32      `yaml:"mask"`
	Overwrite *bool        `yaml:"overwrite"`
	Sensor    *yamlSensor  `yaml:"sensor"`
	Sensors   []yamlSensor `yaml:"sensors"`
}

type yamlCommand struct {
	Command  uint32 `yaml:"command"`
	Response uint32 `yaml:"response"`
	First    uint32 `yaml:"first"`
	Last     uint32 `yaml:"last"`
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the embedded catalog. It panics if the embedded
// tables are malformed or violate sensor uniqueness.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		read := func(name string) []byte {
			b, err := dataFS.ReadFile("data/" + name)
			if err != nil {
				panic(err)
			}
			return b
		}
		c, err := NewCatalog(read("catalog.yaml"), read("commands.yaml"), read("obis.yaml"), read("tags.yaml"))
		if err != nil {
			panic(err)
		}
		if err := c.Validate(); err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func NewCatalog(responses, commands, obis, tags []byte) (*Catalog, error) {
	c := &Catalog{
		responses: map[string][]Rule{},
		commands:  map[string]Command{},
		obis:      map[string]*Sensor{},
		tags:      map[uint32]string{},
	}

	err := eachMappingEntry(responses, func(code string, value *yaml.Node) error {
		var rules []yamlRule
		if err := value.Decode(&rules); err != nil {
			return err
		}
		parsed := make([]Rule, 0, len(rules))
		for _, r := range rules {
			rule, err := r.toRule()
			if err != nil {
				return fmt.Errorf("code %s: %w", code, err)
			}
			parsed = append(parsed, rule)
		}
		c.codes = append(c.codes, code)
		c.responses[code] = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("response catalog: %w", err)
	}

	err = eachMappingEntry(commands, func(name string, value *yaml.Node) error {
		var cmd yamlCommand
		if err := value.Decode(&cmd); err != nil {
			return err
		}
		c.commandOrder = append(c.commandOrder, name)
		c.commands[name] = Command{
			Name:     name,
			Code:     cmd.Command,
			Response: cmd.Response,
			First:    cmd.First,
			Last:     cmd.Last,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}

	err = eachMappingEntry(obis, func(key string, value *yaml.Node) error {
		var s yamlSensor
		if err := value.Decode(&s); err != nil {
			return err
		}
		c.obisOrder = append(c.obisOrder, key)
		if s.Name == "" {
			c.obis[key] = nil
			return nil
		}
		s.Key = key
		c.obis[key] = s.toSensor()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("obis: %w", err)
	}

	if err := yaml.Unmarshal(tags, &c.tags); err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}

	return c, nil
}

func eachMappingEntry(data []byte, fn func(key string, value *yaml.Node) error) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return errors.New("expected a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if err := fn(root.Content[i].Value, root.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (s yamlSensor) toSensor() *Sensor {
	factor := s.Factor
	if factor == 0 {
		factor = 1
	}
	return &Sensor{
		Key:    s.Key,
		Name:   s.Name,
		Factor: factor,
		Unit:   s.Unit,
		Mapper: s.Mapper == "tags",
	}
}

func (r yamlRule) toRule() (Rule, error) {
	rule := Rule{
		Command:   r.Cmd,
		Format:    Format(r.Format),
		Idx:       r.Idx,
		Overwrite: true,
	}
	switch rule.Format {
	case "":
		rule.Format = FormatUint
	case FormatInt, FormatUint, FormatVersion:
	default:
		return rule, fmt.Errorf("unknown format %q", r.Format)
	}
	if r.Mask != nil {
		rule.Mask = *r.Mask
		rule.HasMask = true
	}
	if r.Overwrite != nil {
		rule.Overwrite = *r.Overwrite
	}
	switch {
	case r.Sensor != nil && len(r.Sensors) > 0:
		return rule, errors.New("rule has both sensor and sensors")
	case r.Sensor != nil:
		rule.Target = Single{Sensor: r.Sensor.toSensor()}
	case len(r.Sensors) > 0:
		target := make(ByRegisterIndex, 0, len(r.Sensors))
		for _, s := range r.Sensors {
			target = append(target, s.toSensor())
		}
		rule.Target = target
	}
	return rule, nil
}

// Validate checks that sensor keys and names are unique within the register
// catalog and within the OBIS table.
func (c *Catalog) Validate() error {
	keys := map[string]string{}
	names := map[string]string{}
	for _, code := range c.codes {
		for _, rule := range c.responses[code] {
			if rule.Target == nil {
				continue
			}
			for _, s := range rule.Target.Sensors() {
				if prev, ok := keys[s.Key]; ok {
					return fmt.Errorf("duplicate sensor key %s in %s and %s", s.Key, prev, code)
				}
				keys[s.Key] = code
				if prev, ok := names[s.Name]; ok {
					return fmt.Errorf("duplicate sensor name %s in %s and %s", s.Name, prev, code)
				}
				names[s.Name] = code
			}
		}
	}

	obisNames := map[string]string{}
	for _, key := range c.obisOrder {
		s := c.obis[key]
		if s == nil {
			continue
		}
		if prev, ok := obisNames[s.Name]; ok {
			return fmt.Errorf("duplicate obis sensor name %s in %s and %s", s.Name, prev, key)
		}
		obisNames[s.Name] = key
	}
	return nil
}

func (c *Catalog) Lookup(code string) ([]Rule, bool) {
	rules, ok := c.responses[code]
	return rules, ok
}

// Normalize maps a near-miss response code onto the first catalog code that
// shares its first seven hex digits. Unknown codes are returned unchanged.
func (c *Catalog) Normalize(code string) string {
	if _, ok := c.responses[code]; ok {
		return code
	}
	if len(code) < 7 {
		return code
	}
	for _, known := range c.codes {
		if known[:7] == code[:7] {
			return known
		}
	}
	return code
}

func (c *Catalog) Command(name string) (Command, bool) {
	cmd, ok := c.commands[name]
	return cmd, ok
}

// QueryCommands lists every command except login and logoff, in table order.
func (c *Catalog) QueryCommands() []string {
	var names []string
	for _, name := range c.commandOrder {
		if name == CommandLogin || name == CommandLogoff {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Sensors lists every sensor of the register catalog.
func (c *Catalog) Sensors() []*Sensor {
	var sensors []*Sensor
	for _, code := range c.codes {
		for _, rule := range c.responses[code] {
			if rule.Target != nil {
				sensors = append(sensors, rule.Target.Sensors()...)
			}
		}
	}
	return sensors
}

// Obis returns the sensor of an OBIS key. Known keys without a sensor
// return nil, true.
func (c *Catalog) Obis(key string) (*Sensor, bool) {
	s, ok := c.obis[key]
	return s, ok
}

func (c *Catalog) ObisSensors() []*Sensor {
	var sensors []*Sensor
	for _, key := range c.obisOrder {
		if s := c.obis[key]; s != nil {
			sensors = append(sensors, s)
		}
	}
	return sensors
}

func (c *Catalog) TagLabel(code uint32) (string, bool) {
	label, ok := c.tags[code]
	return label, ok
}
