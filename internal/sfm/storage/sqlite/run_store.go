// Package sqlite persists evaluation run results to the results database.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

// EvaluationRun represents a persisted evaluation result comparing a
// reconstructed model against ground truth.
type EvaluationRun struct {
	RunID      string `json:"run_id"`
	ModelName  string `json:"model_name"`
	ModelUUID  string `json:"model_uuid"`
	SourceFile string `json:"source_file,omitempty"`
	Parser     string `json:"parser,omitempty"`

	Scale         float64         `json:"scale"`
	TransformJSON json.RawMessage `json:"transform_json"`

	CamTruthCount    int     `json:"cam_truth_count"`
	CamMatchedCount  int     `json:"cam_matched_count"`
	CamOutlierCount  int     `json:"cam_outlier_count"`
	Completeness     float64 `json:"completeness"`
	CamPosMean       float64 `json:"cam_pos_mean"`
	CamPosRMS        float64 `json:"cam_pos_rms"`
	CamRotMeanDeg    float64 `json:"cam_rot_mean_deg"`
	CamLookAtMeanDeg float64 `json:"cam_lookat_mean_deg"`

	PCUsedSize *int     `json:"pc_used_size,omitempty"`
	PCDistMean *float64 `json:"pc_dist_mean,omitempty"`
	PCDistRMS  *float64 `json:"pc_dist_rms,omitempty"`

	ICPError      *float64 `json:"icp_error,omitempty"`
	ICPIterations *int     `json:"icp_iterations,omitempty"`

	ReportJSON json.RawMessage `json:"report_json"`
	ParamsJSON json.RawMessage `json:"params_json,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// RunFromReport flattens an error report into a persistable run row.
// The full report travels along as a JSON blob so nothing is lost in the
// column projection.
func RunFromReport(report *sfm.ErrorReport, sourceFile, parser string, params json.RawMessage) (*EvaluationRun, error) {
	blob, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	transform, err := json.Marshal(report.Transform)
	if err != nil {
		return nil, fmt.Errorf("marshal transform: %w", err)
	}

	run := &EvaluationRun{
		RunID:            report.RunID,
		ModelName:        report.ModelName,
		ModelUUID:        report.ModelUUID,
		SourceFile:       sourceFile,
		Parser:           parser,
		Scale:            report.Transform.Scale,
		TransformJSON:    transform,
		CamTruthCount:    report.Cameras.TruthCount,
		CamMatchedCount:  report.Cameras.MatchedCount,
		CamOutlierCount:  report.Cameras.OutlierCount,
		Completeness:     report.Cameras.Completeness,
		CamPosMean:       report.Cameras.Position.Mean,
		CamPosRMS:        report.Cameras.Position.RMS,
		CamRotMeanDeg:    report.Cameras.Rotation.Mean,
		CamLookAtMeanDeg: report.Cameras.LookAt.Mean,
		ReportJSON:       blob,
		ParamsJSON:       params,
		CreatedAt:        report.CreatedAt.UnixNano(),
	}
	if report.Cloud != nil {
		used := report.Cloud.UsedSize
		mean := report.Cloud.Distance.Mean
		rms := report.Cloud.Distance.RMS
		run.PCUsedSize = &used
		run.PCDistMean = &mean
		run.PCDistRMS = &rms
	}
	if report.ICPIterations > 0 {
		icpErr := report.ICPError
		iters := report.ICPIterations
		run.ICPError = &icpErr
		run.ICPIterations = &iters
	}
	return run, nil
}

// RunStore provides persistence for evaluation runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

const runColumns = `run_id, model_name, model_uuid, source_file, parser,
	       scale, transform_json,
	       cam_truth_count, cam_matched_count, cam_outlier_count, completeness,
	       cam_pos_mean, cam_pos_rms, cam_rot_mean_deg, cam_lookat_mean_deg,
	       pc_used_size, pc_dist_mean, pc_dist_rms,
	       icp_error, icp_iterations,
	       report_json, params_json, created_at`

// Insert persists a new evaluation run. If RunID is empty, a UUID is generated.
func (s *RunStore) Insert(run *EvaluationRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO evaluation_runs (`+runColumns+`
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.ModelName, run.ModelUUID, run.SourceFile, run.Parser,
			run.Scale, string(run.TransformJSON),
			run.CamTruthCount, run.CamMatchedCount, run.CamOutlierCount, run.Completeness,
			run.CamPosMean, run.CamPosRMS, run.CamRotMeanDeg, run.CamLookAtMeanDeg,
			run.PCUsedSize, run.PCDistMean, run.PCDistRMS,
			run.ICPError, run.ICPIterations,
			string(run.ReportJSON), paramsStr, run.CreatedAt,
		)
		return err
	})
}

// ListByModel returns all runs for a given model name, newest first.
func (s *RunStore) ListByModel(modelName string) ([]*EvaluationRun, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM evaluation_runs
		WHERE model_name = ?
		ORDER BY created_at DESC`, modelName)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*EvaluationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns a single run by ID.
func (s *RunStore) Get(runID string) (*EvaluationRun, error) {
	row := s.db.QueryRow(`
		SELECT `+runColumns+`
		FROM evaluation_runs
		WHERE run_id = ?`, runID)

	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return r, nil
}

// Delete removes a run by ID.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM evaluation_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// scanner abstracts sql.Row and sql.Rows for scanRun.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRun scans a run row.
func scanRun(row scanner) (*EvaluationRun, error) {
	var r EvaluationRun
	var transformStr, reportStr string
	var paramsStr sql.NullString
	err := row.Scan(
		&r.RunID, &r.ModelName, &r.ModelUUID, &r.SourceFile, &r.Parser,
		&r.Scale, &transformStr,
		&r.CamTruthCount, &r.CamMatchedCount, &r.CamOutlierCount, &r.Completeness,
		&r.CamPosMean, &r.CamPosRMS, &r.CamRotMeanDeg, &r.CamLookAtMeanDeg,
		&r.PCUsedSize, &r.PCDistMean, &r.PCDistRMS,
		&r.ICPError, &r.ICPIterations,
		&reportStr, &paramsStr, &r.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	r.TransformJSON = json.RawMessage(transformStr)
	r.ReportJSON = json.RawMessage(reportStr)
	if paramsStr.Valid {
		r.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	return &r, nil
}
