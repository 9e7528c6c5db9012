// Logit/sampling coordination: composes logit post-processing, probability
// computation, top-p renormalization and sampling into one call. The tensor
// math lives behind the LogitProcessor and Sampler interfaces; only the
// ordering is owned here.

package serve

import (
	"fmt"
	"math/rand"
)

// Logits is a batch of per-branch logit rows.
type Logits [][]float32

// Probs is a batch of per-branch probability rows.
type Probs [][]float32

// LogitProcessor applies per-request logit adjustments and converts logits
// into probability distributions.
type LogitProcessor interface {
	// UpdateLogits adjusts the logit rows in place (penalties, bias, ...).
	UpdateLogits(logits Logits, cfgs []*GenerationConfig, mstates []*RequestModelState, requestIDs []string)
	// ProbsFromLogits converts the (adjusted) logits into probabilities.
	ProbsFromLogits(logits Logits, cfgs []*GenerationConfig, requestIDs []string) Probs
}

// Sampler renormalizes probability rows and samples tokens from them.
type Sampler interface {
	// RenormalizeByTopP applies top-p renormalization over the rows selected
	// by sampleIndices.
	RenormalizeByTopP(probs Probs, sampleIndices []int, requestIDs []string, cfgs []*GenerationConfig) Probs
	// SampleWithProbAfterTopP samples one token per entry of sampleIndices
	// from the renormalized rows.
	SampleWithProbAfterTopP(probs Probs, sampleIndices []int, requestIDs []string,
		cfgs []*GenerationConfig, rngs []*rand.Rand) []SampleResult
}

// ApplyLogitProcessorAndSample runs the full per-step sampling pipeline:
// logit adjustment, probability computation, top-p renormalization over the
// sampling index set, and final sampling over the (possibly larger) child
// index set used for speculative verification. Both the probability tensor
// and the sampled results are returned; callers need the former to verify
// draft tokens. Mismatched parallel-array lengths are contract breaches.
func ApplyLogitProcessorAndSample(logitProcessor LogitProcessor, sampler Sampler, logits Logits,
	cfgs []*GenerationConfig, requestIDs []string, mstates []*RequestModelState, rngs []*rand.Rand,
	sampleIndices []int, childCfgs []*GenerationConfig, childRequestIDs []string,
	childSampleIndices []int) (Probs, []SampleResult) {
	if len(cfgs) != len(requestIDs) || len(cfgs) != len(mstates) {
		panic(fmt.Sprintf("ApplyLogitProcessorAndSample: cfgs/requestIDs/mstates length mismatch: %d/%d/%d",
			len(cfgs), len(requestIDs), len(mstates)))
	}
	if len(childCfgs) != len(childRequestIDs) || len(childCfgs) != len(childSampleIndices) ||
		len(childCfgs) != len(rngs) {
		panic(fmt.Sprintf("ApplyLogitProcessorAndSample: child arrays length mismatch: %d/%d/%d/%d",
			len(childCfgs), len(childRequestIDs), len(childSampleIndices), len(rngs)))
	}

	logitProcessor.UpdateLogits(logits, cfgs, mstates, requestIDs)
	probs := logitProcessor.ProbsFromLogits(logits, cfgs, requestIDs)

	renormalized := sampler.RenormalizeByTopP(probs, sampleIndices, requestIDs, cfgs)
	samples := sampler.SampleWithProbAfterTopP(renormalized, childSampleIndices, childRequestIDs,
		childCfgs, rngs)
	return probs, samples
}
