// Package detscore scores object-detector output against ground-truth
// labels and records one loss per (model, image), so the images a model
// handles worst can be ranked for relabeling.
//
// # Quick Start
//
//	det, err := detect.NewONNX("yolov8n.onnx", classes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer det.Close()
//
//	st, err := sqlite.Open("scores.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
//	runner, err := detscore.New(det, st, detscore.WithClassMap(classes))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sum, err := runner.Run(ctx, "yolov8n", images)
//	fmt.Printf("scored=%d skipped=%d failed=%d\n", sum.Scored, sum.Skipped, sum.Failed)
//
// # Scoring
//
// Images with labels are scored on the ground-truth path: predictions are
// matched greedily to annotations and the loss is
// (1-AvgIoU)+(1-Precision)+(1-Recall)+(1-ClassAccuracy), in [0, 4].
// Images without labels fall back to 1 - mean prediction confidence.
//
// # Idempotence
//
// A (model, file) pair already in the store is skipped, and the store
// ignores a second insert of the same key, so a run can be repeated after
// a partial failure without changing recorded scores.
//
// # Thread Safety
//
// Runner is safe for concurrent use. With WithWorkers(n) a run evaluates up
// to n images at once; each key is processed by at most one worker.
package detscore
