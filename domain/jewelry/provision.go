package jewelry

import (
	"sort"

	customlog "github.com/jewel-mirror/overlay/pkg/log"
)

// RepresentationKind names what the renderer should draw for an item.
type RepresentationKind string

const (
	// KindAsset means the item's 3D asset is loaded and should be drawn.
	KindAsset RepresentationKind = "asset"
	// KindPlaceholder is the neutral stand-in shown while an asset loads.
	KindPlaceholder RepresentationKind = "placeholder"
	// KindFallback is the procedural hoop drawn when an item has no asset
	// or its asset failed to load.
	KindFallback RepresentationKind = "fallback"
)

// Base proportions of the procedural shapes in render-space units, before
// the item scale is applied.
const (
	baseHoopRadius        = 0.04
	baseTubeRadius        = 0.008
	baseAccentRadius      = 0.015
	basePlaceholderRadius = 0.02
)

// placeholderColor is the neutral tint of the loading stand-in.
const placeholderColor = "#9e9e9e"

// Geometry parameterizes the procedural shapes. The fallback is a torus with
// a small sphere accent; the placeholder is the sphere alone. Values are
// final render-space sizes with the item scale already applied.
type Geometry struct {
	HoopRadius   float64 `json:"hoop_radius,omitempty"`
	TubeRadius   float64 `json:"tube_radius,omitempty"`
	AccentRadius float64 `json:"accent_radius,omitempty"`
}

// RenderObject tells the renderer what to draw for the selected item.
type RenderObject struct {
	ItemID    string             `json:"item_id"`
	Kind      RepresentationKind `json:"kind"`
	AssetPath string             `json:"asset_path,omitempty"`
	Scale     float64            `json:"scale"`
	Color     string             `json:"color,omitempty"`
	Geometry  *Geometry          `json:"geometry,omitempty"`
}

type assetState int

const (
	assetLoading assetState = iota
	assetReady
	assetFailed
)

// Provisioner decides which representation each jewelry item gets and
// remembers asset load outcomes for the lifetime of the process. A path
// reported failed is never requested again; its items render as the
// procedural fallback from then on.
//
// The provisioner is not safe for concurrent use. The overlay engine owns
// it and serializes all access.
type Provisioner struct {
	logger customlog.Logger
	assets map[string]assetState
}

// NewProvisioner creates an empty provisioner.
func NewProvisioner(logger customlog.Logger) *Provisioner {
	return &Provisioner{
		logger: logger,
		assets: make(map[string]assetState),
	}
}

// Resolve returns the render object for the descriptor given what is known
// about its asset. The first sight of an asset path marks it loading, which
// renderers pick up through Pending.
func (p *Provisioner) Resolve(desc Descriptor) RenderObject {
	if desc.AssetPath == "" {
		return p.fallbackObject(desc)
	}

	state, known := p.assets[desc.AssetPath]
	if !known {
		p.assets[desc.AssetPath] = assetLoading
		p.logger.Infof("Requesting jewelry asset load: %s", desc.AssetPath)
		return p.placeholderObject(desc)
	}

	switch state {
	case assetReady:
		return RenderObject{
			ItemID:    desc.ID,
			Kind:      KindAsset,
			AssetPath: desc.AssetPath,
			Scale:     desc.Scale,
		}
	case assetFailed:
		return p.fallbackObject(desc)
	default:
		return p.placeholderObject(desc)
	}
}

// Pending returns the asset paths whose loads have been requested but not
// yet reported, in stable order.
func (p *Provisioner) Pending() []string {
	var pending []string
	for path, state := range p.assets {
		if state == assetLoading {
			pending = append(pending, path)
		}
	}
	sort.Strings(pending)
	return pending
}

// AssetReady records a successful asset load. Reports for paths that were
// never requested are ignored.
func (p *Provisioner) AssetReady(path string) bool {
	if _, known := p.assets[path]; !known {
		p.logger.Warnf("Ignoring ready report for unknown asset: %s", path)
		return false
	}
	if p.assets[path] == assetFailed {
		// Failure memory wins for the rest of the session.
		p.logger.Warnf("Ignoring ready report for failed asset: %s", path)
		return false
	}
	p.assets[path] = assetReady
	p.logger.Infof("Jewelry asset ready: %s", path)
	return true
}

// AssetFailed records a failed asset load. The failure sticks for the rest
// of the session.
func (p *Provisioner) AssetFailed(path string, reason string) bool {
	if _, known := p.assets[path]; !known {
		p.logger.Warnf("Ignoring failure report for unknown asset: %s", path)
		return false
	}
	p.assets[path] = assetFailed
	p.logger.Warnf("Jewelry asset failed to load, using fallback: %s (%s)", path, reason)
	return true
}

func (p *Provisioner) fallbackObject(desc Descriptor) RenderObject {
	scale := scaleOf(desc)
	return RenderObject{
		ItemID: desc.ID,
		Kind:   KindFallback,
		Scale:  scale,
		Color:  desc.FallbackColor,
		Geometry: &Geometry{
			HoopRadius:   baseHoopRadius * scale,
			TubeRadius:   baseTubeRadius * scale,
			AccentRadius: baseAccentRadius * scale,
		},
	}
}

func (p *Provisioner) placeholderObject(desc Descriptor) RenderObject {
	scale := scaleOf(desc)
	return RenderObject{
		ItemID: desc.ID,
		Kind:   KindPlaceholder,
		Scale:  scale,
		Color:  placeholderColor,
		Geometry: &Geometry{
			AccentRadius: basePlaceholderRadius * scale,
		},
	}
}

func scaleOf(desc Descriptor) float64 {
	if desc.Scale <= 0 {
		return 1.0
	}
	return desc.Scale
}
