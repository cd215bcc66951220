// Package extract pulls executable code out of a free-form model response.
//
// A response may carry any number of fenced blocks tagged with a language
// (```python ... ```). Every non-empty block is trimmed and the blocks are
// joined, in order of appearance, with one blank line between them. The joined
// text runs as a single program, so when two blocks bind the same name the
// later binding wins. [Outcome.Rebinds] reports how many blocks bind a given
// name, letting callers log shadowing of the result binding.
//
// A response with no usable block yields an [Outcome] whose Found method
// reports false; there is no sentinel text.
package extract
