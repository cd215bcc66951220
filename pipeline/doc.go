// Package pipeline wires the stages of a geospatial analysis together.
//
// A request flows through four boundaries:
//
//   - [bootstrap]: the optional FeatureCollection is validated and turned into
//     a preamble before anything else happens.
//   - [prompt]: the task is sent to the model.
//   - [extract]: the fenced code is pulled out of the reply.
//   - [runtime]: the preamble and code run in a sandboxed worker and the
//     result binding is read back.
//
// Every failure leaves the pipeline as an [*Error] whose Kind says which
// boundary failed and whose message is safe to show to callers. The wrapped
// cause stays available through errors.Unwrap for logs.
//
// [bootstrap]: github.com/jonwraymond/geoexec/bootstrap
// [prompt]: github.com/jonwraymond/geoexec/prompt
// [extract]: github.com/jonwraymond/geoexec/extract
// [runtime]: github.com/jonwraymond/geoexec/runtime
package pipeline
