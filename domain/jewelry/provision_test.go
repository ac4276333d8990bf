package jewelry

import (
	"testing"

	customlog "github.com/jewel-mirror/overlay/pkg/log"
)

func testLogger(t *testing.T) customlog.Logger {
	t.Helper()
	logger, err := customlog.NewLogrusLogger("fatal", "")
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	return logger
}

func TestResolveWithoutAssetUsesFallback(t *testing.T) {
	p := NewProvisioner(testLogger(t))
	desc := Descriptor{ID: "plain-ring", Scale: 2.0, FallbackColor: "#b87333"}

	obj := p.Resolve(desc)
	if obj.Kind != KindFallback {
		t.Fatalf("Expected fallback, got %s", obj.Kind)
	}
	if obj.Color != "#b87333" {
		t.Errorf("Expected item fallback color, got %s", obj.Color)
	}
	if obj.Geometry == nil {
		t.Fatal("Fallback must carry geometry")
	}
	if obj.Geometry.HoopRadius != baseHoopRadius*2.0 {
		t.Errorf("Expected scaled hoop radius, got %v", obj.Geometry.HoopRadius)
	}
	if obj.Geometry.TubeRadius != baseTubeRadius*2.0 {
		t.Errorf("Expected scaled tube radius, got %v", obj.Geometry.TubeRadius)
	}
	if len(p.Pending()) != 0 {
		t.Errorf("Asset-less item must not request loads, pending %v", p.Pending())
	}
}

func TestResolveAssetLifecycle(t *testing.T) {
	p := NewProvisioner(testLogger(t))
	desc := Descriptor{ID: "gold-hoop", AssetPath: "models/gold_hoop.glb", Scale: 1.0, FallbackColor: "#d4af37"}

	// First sight requests the load and shows the placeholder
	obj := p.Resolve(desc)
	if obj.Kind != KindPlaceholder {
		t.Fatalf("Expected placeholder on first resolve, got %s", obj.Kind)
	}
	if obj.Geometry == nil || obj.Geometry.AccentRadius != basePlaceholderRadius {
		t.Errorf("Unexpected placeholder geometry: %+v", obj.Geometry)
	}
	pending := p.Pending()
	if len(pending) != 1 || pending[0] != "models/gold_hoop.glb" {
		t.Fatalf("Expected pending load for the asset, got %v", pending)
	}

	// Still loading on the next resolve
	if obj := p.Resolve(desc); obj.Kind != KindPlaceholder {
		t.Errorf("Expected placeholder while loading, got %s", obj.Kind)
	}

	// Ready flips to the real asset
	if !p.AssetReady("models/gold_hoop.glb") {
		t.Fatal("Expected ready report to be accepted")
	}
	obj = p.Resolve(desc)
	if obj.Kind != KindAsset {
		t.Fatalf("Expected asset after ready report, got %s", obj.Kind)
	}
	if obj.AssetPath != "models/gold_hoop.glb" {
		t.Errorf("Expected asset path on render object, got %s", obj.AssetPath)
	}
	if len(p.Pending()) != 0 {
		t.Errorf("Nothing should be pending, got %v", p.Pending())
	}
}

func TestAssetFailureIsPermanent(t *testing.T) {
	p := NewProvisioner(testLogger(t))
	desc := Descriptor{ID: "gold-hoop", AssetPath: "models/gold_hoop.glb", Scale: 1.0, FallbackColor: "#d4af37"}

	p.Resolve(desc)
	if !p.AssetFailed("models/gold_hoop.glb", "decode error") {
		t.Fatal("Expected failure report to be accepted")
	}

	// Every later resolve stays on the fallback, with no new load request
	for i := 0; i < 3; i++ {
		obj := p.Resolve(desc)
		if obj.Kind != KindFallback {
			t.Fatalf("Resolve %d: expected fallback after failure, got %s", i, obj.Kind)
		}
	}
	if len(p.Pending()) != 0 {
		t.Errorf("Failed asset must not be re-requested, pending %v", p.Pending())
	}

	// A stray ready report cannot resurrect a failed asset
	if p.AssetReady("models/gold_hoop.glb") {
		t.Error("Ready report after failure must be ignored")
	}
	if obj := p.Resolve(desc); obj.Kind != KindFallback {
		t.Errorf("Expected fallback to stick, got %s", obj.Kind)
	}
}

func TestAssetReportsForUnknownPathsIgnored(t *testing.T) {
	p := NewProvisioner(testLogger(t))

	if p.AssetReady("models/never_requested.glb") {
		t.Error("Ready report for unknown path must be ignored")
	}
	if p.AssetFailed("models/never_requested.glb", "whatever") {
		t.Error("Failure report for unknown path must be ignored")
	}
}

func TestSharedAssetPathSharesOutcome(t *testing.T) {
	p := NewProvisioner(testLogger(t))
	a := Descriptor{ID: "gold-hoop", AssetPath: "models/shared.glb", Scale: 1.0}
	b := Descriptor{ID: "gold-hoop-large", AssetPath: "models/shared.glb", Scale: 1.5}

	p.Resolve(a)
	p.AssetFailed("models/shared.glb", "404")

	if obj := p.Resolve(b); obj.Kind != KindFallback {
		t.Errorf("Failure memory is per path, expected fallback for second item, got %s", obj.Kind)
	}
}

func TestResolveDefaultsScale(t *testing.T) {
	p := NewProvisioner(testLogger(t))
	obj := p.Resolve(Descriptor{ID: "odd", FallbackColor: "#fff"})
	if obj.Scale != 1.0 {
		t.Errorf("Expected scale to default to 1.0, got %v", obj.Scale)
	}
}
