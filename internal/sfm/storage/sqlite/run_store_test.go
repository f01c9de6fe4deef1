package sqlite

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidemarelli/sfm-flow/internal/db"
	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

func setupTestRunDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func testRun(modelName string) *EvaluationRun {
	used := 1200
	mean := 0.012
	rms := 0.018
	return &EvaluationRun{
		ModelName:        modelName,
		ModelUUID:        "205f80ad-e559-4f96-8cc1-e26f9bc5d54f",
		SourceFile:       "recon/model.nvm",
		Parser:           "NVM",
		Scale:            1.25,
		TransformJSON:    json.RawMessage(`{"scale":1.25}`),
		CamTruthCount:    30,
		CamMatchedCount:  28,
		CamOutlierCount:  1,
		Completeness:     28.0 / 30.0,
		CamPosMean:       0.034,
		CamPosRMS:        0.041,
		CamRotMeanDeg:    0.8,
		CamLookAtMeanDeg: 0.5,
		PCUsedSize:       &used,
		PCDistMean:       &mean,
		PCDistRMS:        &rms,
		ReportJSON:       json.RawMessage(`{"run_id":"x"}`),
		ParamsJSON:       json.RawMessage(`{"robust_stats":false}`),
	}
}

func TestRunStore_InsertAndGet(t *testing.T) {
	database := setupTestRunDB(t)
	store := NewRunStore(database.DB)

	run := testRun("statue")
	if err := store.Insert(run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if run.RunID == "" {
		t.Fatal("Insert did not assign a run ID")
	}
	if run.CreatedAt == 0 {
		t.Fatal("Insert did not assign a creation time")
	}

	got, err := store.Get(run.RunID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ModelName != "statue" {
		t.Errorf("ModelName = %q, want %q", got.ModelName, "statue")
	}
	if got.CamMatchedCount != 28 {
		t.Errorf("CamMatchedCount = %d, want 28", got.CamMatchedCount)
	}
	if got.Scale != 1.25 {
		t.Errorf("Scale = %f, want 1.25", got.Scale)
	}
	if got.PCUsedSize == nil || *got.PCUsedSize != 1200 {
		t.Errorf("PCUsedSize = %v, want 1200", got.PCUsedSize)
	}
	if got.ICPError != nil {
		t.Errorf("ICPError = %v, want nil", got.ICPError)
	}
	if string(got.ParamsJSON) != `{"robust_stats":false}` {
		t.Errorf("ParamsJSON = %s", got.ParamsJSON)
	}
}

func TestRunStore_GetMissing(t *testing.T) {
	database := setupTestRunDB(t)
	store := NewRunStore(database.DB)

	if _, err := store.Get("no-such-run"); err == nil {
		t.Error("Expected error for missing run")
	}
}

func TestRunStore_ListByModel(t *testing.T) {
	database := setupTestRunDB(t)
	store := NewRunStore(database.DB)

	for i, name := range []string{"statue", "statue", "temple"} {
		run := testRun(name)
		run.CreatedAt = int64(1000 + i)
		if err := store.Insert(run); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	runs, err := store.ListByModel("statue")
	if err != nil {
		t.Fatalf("ListByModel failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListByModel returned %d runs, want 2", len(runs))
	}
	if runs[0].CreatedAt < runs[1].CreatedAt {
		t.Error("ListByModel not ordered newest first")
	}
}

func TestRunStore_Delete(t *testing.T) {
	database := setupTestRunDB(t)
	store := NewRunStore(database.DB)

	run := testRun("statue")
	if err := store.Insert(run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Delete(run.RunID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(run.RunID); err == nil {
		t.Error("Expected error deleting missing run")
	}
}

func TestRunFromReport(t *testing.T) {
	report := &sfm.ErrorReport{
		RunID:     "run-1",
		ModelName: "statue",
		ModelUUID: "205f80ad-e559-4f96-8cc1-e26f9bc5d54f",
		CreatedAt: time.Unix(0, 1700000000000000000),
		Transform: sfm.IdentityTransform(),
		Cameras: sfm.CameraMetrics{
			TruthCount:   30,
			MatchedCount: 28,
			Completeness: 28.0 / 30.0,
		},
		ICPError:      0.002,
		ICPIterations: 12,
	}

	run, err := RunFromReport(report, "recon/model.nvm", "NVM", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("RunFromReport failed: %v", err)
	}
	if run.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", run.RunID)
	}
	if run.Scale != 1 {
		t.Errorf("Scale = %f, want 1", run.Scale)
	}
	if run.PCUsedSize != nil {
		t.Error("Expected nil PCUsedSize without cloud metrics")
	}
	if run.ICPIterations == nil || *run.ICPIterations != 12 {
		t.Errorf("ICPIterations = %v, want 12", run.ICPIterations)
	}
	if run.CreatedAt != 1700000000000000000 {
		t.Errorf("CreatedAt = %d", run.CreatedAt)
	}

	var decoded sfm.ErrorReport
	if err := json.Unmarshal(run.ReportJSON, &decoded); err != nil {
		t.Fatalf("ReportJSON does not decode: %v", err)
	}
	if decoded.ModelName != "statue" {
		t.Errorf("decoded ModelName = %q", decoded.ModelName)
	}
}
