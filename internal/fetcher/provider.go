package fetcher

import (
	"errors"
	"fmt"
	"strings"
)

// Provider identifiers for consistent naming across the application
const (
	ProviderOSM         = "osm"
	ProviderEsriImagery = "esri_world_imagery"
	ProviderOpenTopoMap = "opentopomap"
	ProviderCustom      = "custom"
)

// ErrInvalidTemplate is returned when a tile URL template cannot serve the
// XYZ scheme. This is a configuration error detected before any network
// activity.
var ErrInvalidTemplate = errors.New("invalid tile URL template")

// builtinTemplates maps each known provider to its XYZ URL template
var builtinTemplates = map[string]string{
	ProviderOSM:         "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
	ProviderEsriImagery: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
	ProviderOpenTopoMap: "https://tile.opentopomap.org/{z}/{x}/{y}.png",
}

// Provider is one member of the closed set of tile sources. Each provider
// knows how to build its own tile URL.
type Provider struct {
	Name     string
	template string
}

// NewProvider returns the builtin provider with the given name
func NewProvider(name string) (Provider, error) {
	template, ok := builtinTemplates[name]
	if !ok {
		return Provider{}, fmt.Errorf("%w: unknown provider %q", ErrInvalidTemplate, name)
	}
	return Provider{Name: name, template: template}, nil
}

// NewCustomProvider builds a provider from a user-supplied XYZ template.
// The template must reference all three of {z}, {x} and {y}.
func NewCustomProvider(template string) (Provider, error) {
	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(template, placeholder) {
			return Provider{}, fmt.Errorf("%w: missing %s placeholder", ErrInvalidTemplate, placeholder)
		}
	}
	if !strings.HasPrefix(template, "http://") && !strings.HasPrefix(template, "https://") {
		return Provider{}, fmt.Errorf("%w: template must be an http(s) URL", ErrInvalidTemplate)
	}
	return Provider{Name: ProviderCustom, template: template}, nil
}

// Resolve selects a provider by name, falling back to a custom template when
// name is "custom"
func Resolve(name, customTemplate string) (Provider, error) {
	if name == ProviderCustom {
		return NewCustomProvider(customTemplate)
	}
	return NewProvider(name)
}

// TileURL builds the download URL for one tile
func (p Provider) TileURL(z, x, y int) string {
	url := p.template
	url = strings.ReplaceAll(url, "{z}", fmt.Sprintf("%d", z))
	url = strings.ReplaceAll(url, "{x}", fmt.Sprintf("%d", x))
	url = strings.ReplaceAll(url, "{y}", fmt.Sprintf("%d", y))
	return url
}
