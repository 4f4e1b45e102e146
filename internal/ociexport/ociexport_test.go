package ociexport

import "testing"

func TestPlanMergeGroupsUnderLimit(t *testing.T) {
	plan := PlanMerge([]int64{10, 10, 10, 100}, 25)
	if len(plan) != 3 {
		t.Fatalf("expected 3 plan steps, got %d: %+v", len(plan), plan)
	}
	if plan[0].Keep || len(plan[0].Layers) != 2 {
		t.Fatalf("expected first two small layers merged, got %+v", plan[0])
	}
	if !plan[1].Keep || plan[1].Layers[0] != 2 {
		t.Fatalf("expected third layer standalone, got %+v", plan[1])
	}
	if !plan[2].Keep || plan[2].Layers[0] != 3 {
		t.Fatalf("expected oversized layer kept standalone, got %+v", plan[2])
	}
}

func TestPlanMergeAllFitInOneGroup(t *testing.T) {
	plan := PlanMerge([]int64{1, 2, 3}, 100)
	if len(plan) != 1 || plan[0].Keep {
		t.Fatalf("expected a single merged group, got %+v", plan)
	}
	if len(plan[0].Layers) != 3 {
		t.Fatalf("expected all 3 layers in the group, got %+v", plan[0].Layers)
	}
}

func TestPlanMergeEmpty(t *testing.T) {
	if plan := PlanMerge(nil, 10); len(plan) != 0 {
		t.Fatalf("expected empty plan for no layers, got %+v", plan)
	}
}
