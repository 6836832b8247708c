// Package pipeline drives an incoming event through an ordered list of
// named stages. Three stages ship by default: pre_process classifies the
// event and assigns its priority, process dispatches it to plugin hooks or
// the built-in handling, and respond flushes the buffered replies to the
// transport. Hosts can insert custom stages relative to any named stage.
//
// Each run owns a single core.PipelineContext. A stage may abort the run
// cooperatively; aborted runs skip all remaining stages including respond,
// so buffered replies are dropped.
package pipeline
