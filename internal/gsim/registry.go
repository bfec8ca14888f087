package gsim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	SupportedSchemaVersion = 1
	SupportedCodecVersion  = 1
)

var (
	ErrModelExists   = errors.New("ground motion model already registered")
	ErrModelNotFound = errors.New("ground motion model not found")
	ErrModelVersion  = errors.New("ground motion model version mismatch")
)

// Factory builds a model from its numeric arguments.
type Factory func(args map[string]float64) (Model, error)

type Spec struct {
	Name          string
	Factory       Factory
	SchemaVersion int
	CodecVersion  int
}

type registeredModel struct {
	factory       Factory
	schemaVersion int
	codecVersion  int
}

var modelRegistry = struct {
	mu sync.RWMutex
	m  map[string]registeredModel
}{
	m: make(map[string]registeredModel),
}

func init() {
	initializeBuiltInModels()
}

func initializeBuiltInModels() {
	MustRegister("constant", newConstant)
	MustRegister("attenuation", newAttenuation)
}

func Register(name string, factory Factory) error {
	return RegisterWithSpec(Spec{
		Name:          name,
		Factory:       factory,
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
	})
}

func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

func RegisterWithSpec(spec Spec) error {
	if spec.Name == "" {
		return errors.New("model name is required")
	}
	if spec.Factory == nil {
		return errors.New("model factory is required")
	}
	if spec.SchemaVersion != SupportedSchemaVersion || spec.CodecVersion != SupportedCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrModelVersion, spec.SchemaVersion, spec.CodecVersion)
	}

	modelRegistry.mu.Lock()
	defer modelRegistry.mu.Unlock()

	if _, exists := modelRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrModelExists, spec.Name)
	}
	modelRegistry.m[spec.Name] = registeredModel{
		factory:       spec.Factory,
		schemaVersion: spec.SchemaVersion,
		codecVersion:  spec.CodecVersion,
	}
	return nil
}

func Get(name string) (Factory, error) {
	modelRegistry.mu.RLock()
	entry, ok := modelRegistry.m[name]
	modelRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	if entry.schemaVersion != SupportedSchemaVersion || entry.codecVersion != SupportedCodecVersion {
		return nil, fmt.Errorf("%w: %s", ErrModelVersion, name)
	}
	return entry.factory, nil
}

// New builds the registered model name with args.
func New(name string, args map[string]float64) (Model, error) {
	factory, err := Get(name)
	if err != nil {
		return nil, err
	}
	model, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}
	return model, nil
}

func List() []string {
	modelRegistry.mu.RLock()
	defer modelRegistry.mu.RUnlock()

	names := make([]string, 0, len(modelRegistry.m))
	for name := range modelRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	modelRegistry.mu.Lock()
	modelRegistry.m = make(map[string]registeredModel)
	modelRegistry.mu.Unlock()
	initializeBuiltInModels()
}
