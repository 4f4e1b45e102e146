package builder

import (
	"testing"

	"github.com/vagga-go/vagga/internal/buildstep"
	"github.com/vagga-go/vagga/internal/vaggayaml"
	"gopkg.in/yaml.v3"
)

func decodeYAMLStep(t *testing.T, src string) vaggayaml.StepYAML {
	t.Helper()
	var step vaggayaml.StepYAML
	if err := yaml.Unmarshal([]byte(src), &step); err != nil {
		t.Fatal(err)
	}
	return step
}

func TestDecodeStepsBuildsConcreteSteps(t *testing.T) {
	raw := []vaggayaml.StepYAML{
		decodeYAMLStep(t, "Ubuntu: jammy\n"),
		decodeYAMLStep(t, "Install: [curl, git]\n"),
		decodeYAMLStep(t, "Sh: echo hi\n"),
	}
	steps, err := DecodeSteps(raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	ub, ok := steps[0].(*buildstep.UbuntuBase)
	if !ok || ub.Codename != "jammy" {
		t.Fatalf("expected Ubuntu jammy, got %+v", steps[0])
	}
	inst, ok := steps[1].(*buildstep.Install)
	if !ok || len(inst.Packages) != 2 {
		t.Fatalf("expected Install with 2 packages, got %+v", steps[1])
	}
}

func TestDecodeStepsRejectsUnknownKind(t *testing.T) {
	raw := []vaggayaml.StepYAML{decodeYAMLStep(t, "Bogus: whatever\n")}
	if _, err := DecodeSteps(raw, ""); err == nil {
		t.Fatal("expected error for unknown builder kind")
	}
}

func TestContainerFromYAMLCarriesUIDRanges(t *testing.T) {
	c := &vaggayaml.ContainerYAML{
		UIDs: []vaggayaml.RangeYAML{{Start: 0, End: 65535}},
	}
	cont, err := ContainerFromYAML("devel", c, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(cont.UIDs) != 1 || cont.UIDs[0][0] != 0 || cont.UIDs[0][1] != 65535 {
		t.Fatalf("unexpected uids: %+v", cont.UIDs)
	}
}
