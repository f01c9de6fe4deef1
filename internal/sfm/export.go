package sfm

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EvaluationFilename is the default basename of the text evaluation file; the
// CSV file shares the stem.
const EvaluationFilename = "sfmflow_evaluation.txt"

// csvFieldnames is the header of the per-run evaluation CSV. One row per
// evaluation run, appended so repeated runs accumulate into a comparable
// table.
var csvFieldnames = []string{
	"run_id", "model_name", "model_uuid", "created_at",
	"scale", "completeness",
	"cam_count", "cam_matched", "cam_outliers",
	"cam_pos_mean", "cam_pos_median", "cam_pos_rms", "cam_pos_std", "cam_pos_min", "cam_pos_max",
	"cam_rot_mean", "cam_rot_median", "cam_rot_rms", "cam_rot_std", "cam_rot_min", "cam_rot_max",
	"cam_lookat_mean", "cam_lookat_median", "cam_lookat_rms", "cam_lookat_std", "cam_lookat_min", "cam_lookat_max",
	"pc_full_size", "pc_used_size", "pc_used_fraction", "pc_discarded", "pc_outliers",
	"pc_dist_mean", "pc_dist_median", "pc_dist_rms", "pc_dist_std", "pc_dist_min", "pc_dist_max",
}

// WriteText writes (or appends) the human readable evaluation file for a
// report, in the same layout the interactive evaluation dialog produces.
func WriteText(report *ErrorReport, path string, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create evaluation directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open evaluation file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "Evaluation of reconstruction model '%s' (uuid %s)\n", report.ModelName, report.ModelUUID)
	fmt.Fprintf(&b, "Run: %s at %s\n", report.RunID, report.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Alignment scale: %.6f\n", report.Transform.Scale)

	if pc := report.Cloud; pc != nil {
		b.WriteString("Point cloud evaluation:\n")
		fmt.Fprintf(&b, "   used filtered point cloud: %v\n", pc.UsedFilteredCloud)
		fmt.Fprintf(&b, "   filter threshold: %.3f\n", pc.FilterThreshold)
		fmt.Fprintf(&b, "   full cloud size: %d\n", pc.FullSize)
		fmt.Fprintf(&b, "   evaluated cloud size: %d (%.1f%%)\n", pc.UsedSize, pc.UsedFraction*100)
		fmt.Fprintf(&b, "   discarded points count: %d\n", pc.DiscardedPoints)
		fmt.Fprintf(&b, "   distance mean: %.3f\n", pc.Distance.Mean)
		fmt.Fprintf(&b, "   distance median: %.3f\n", pc.Distance.Median)
		fmt.Fprintf(&b, "   distance RMS: %.3f\n", pc.Distance.RMS)
		fmt.Fprintf(&b, "   distance standard deviation: %.3f\n", pc.Distance.StdDev)
		fmt.Fprintf(&b, "   distance min: %.3f\n", pc.Distance.Min)
		fmt.Fprintf(&b, "   distance max: %.3f\n", pc.Distance.Max)
	}

	cam := report.Cameras
	b.WriteString("Camera poses evaluation:\n")
	fmt.Fprintf(&b, "   cameras count: %d\n", cam.TruthCount)
	fmt.Fprintf(&b, "   reconstructed camera count: %d (%.1f%%)\n", cam.MatchedCount, cam.Completeness*100)
	fmt.Fprintf(&b, "   outlier count: %d\n", cam.OutlierCount)
	fmt.Fprintf(&b, "   distance mean: %.3f\n", cam.Position.Mean)
	fmt.Fprintf(&b, "   distance median: %.3f\n", cam.Position.Median)
	fmt.Fprintf(&b, "   distance RMS: %.3f\n", cam.Position.RMS)
	fmt.Fprintf(&b, "   distance standard deviation: %.3f\n", cam.Position.StdDev)
	fmt.Fprintf(&b, "   distance min: %.3f\n", cam.Position.Min)
	fmt.Fprintf(&b, "   distance max: %.3f\n", cam.Position.Max)
	fmt.Fprintf(&b, "   rotation difference mean: %.3f°\n", cam.Rotation.Mean)
	fmt.Fprintf(&b, "   rotation difference median: %.3f°\n", cam.Rotation.Median)
	fmt.Fprintf(&b, "   rotation difference standard deviation: %.3f°\n", cam.Rotation.StdDev)
	fmt.Fprintf(&b, "   rotation difference min: %.3f°\n", cam.Rotation.Min)
	fmt.Fprintf(&b, "   rotation difference max: %.3f°\n", cam.Rotation.Max)
	fmt.Fprintf(&b, "   look-at direction difference mean: %.3f°\n", cam.LookAt.Mean)
	fmt.Fprintf(&b, "   look-at direction difference standard deviation: %.3f°\n", cam.LookAt.StdDev)
	fmt.Fprintf(&b, "   look-at direction difference min: %.3f°\n", cam.LookAt.Min)
	fmt.Fprintf(&b, "   look-at direction difference max: %.3f°\n", cam.LookAt.Max)
	b.WriteString("\n\n")

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write evaluation file: %w", err)
	}
	log.Printf("[Export] Evaluation written to %s", path)
	return nil
}

// WriteCSV appends one evaluation row to the CSV file next to the text file,
// writing the header first when the file is empty.
func WriteCSV(report *ErrorReport, path string, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create evaluation directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open evaluation CSV: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat evaluation CSV: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvFieldnames); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
	}
	if err := w.Write(csvRow(report)); err != nil {
		return fmt.Errorf("write CSV row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// WriteJSON writes the full report as indented JSON, overwriting any previous
// file.
func WriteJSON(report *ErrorReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create evaluation directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report JSON: %w", err)
	}
	return nil
}

func csvRow(report *ErrorReport) []string {
	cam := report.Cameras
	row := []string{
		report.RunID, report.ModelName, report.ModelUUID,
		report.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		num(report.Transform.Scale), num(cam.Completeness),
		strconv.Itoa(cam.TruthCount), strconv.Itoa(cam.MatchedCount), strconv.Itoa(cam.OutlierCount),
	}
	row = append(row, summaryFields(cam.Position)...)
	row = append(row, summaryFields(cam.Rotation)...)
	row = append(row, summaryFields(cam.LookAt)...)

	if pc := report.Cloud; pc != nil {
		row = append(row,
			strconv.Itoa(pc.FullSize), strconv.Itoa(pc.UsedSize), num(pc.UsedFraction),
			strconv.Itoa(pc.DiscardedPoints), strconv.Itoa(pc.OutlierCount))
		row = append(row, summaryFields(pc.Distance)...)
	} else {
		for i := len(row); i < len(csvFieldnames); i++ {
			row = append(row, "")
		}
	}
	return row
}

func summaryFields(s Summary) []string {
	return []string{num(s.Mean), num(s.Median), num(s.RMS), num(s.StdDev), num(s.Min), num(s.Max)}
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
