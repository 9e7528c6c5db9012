// The replay command drives the engine core over a synthetic workload with
// in-process stand-ins for the external collaborators (backend model,
// tokenizer, sampler). It exists to exercise the full request lifecycle --
// admission, decode steps, preemption under a token budget, finish
// cascades, streaming -- outside a real serving stack.

package cmd

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	serve "github.com/inference-core/inference-core/serve"
	"github.com/inference-core/inference-core/serve/trace"
)

const (
	vocabSize   = 48
	stopTokenID = 0
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a synthetic workload through the engine core",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runReplay(cfg)
	},
}

// kvBackend is a stand-in backend model that only tracks which sequence
// ids hold resources.
type kvBackend struct {
	live map[int64]bool
}

func newKVBackend() *kvBackend {
	return &kvBackend{live: make(map[int64]bool)}
}

func (b *kvBackend) AddSequence(seqID int64) {
	b.live[seqID] = true
}

func (b *kvBackend) RemoveSequence(seqID int64) {
	delete(b.live, seqID)
}

// byteTokenizer maps token ids onto lowercase letters; good enough to give
// stop-string matching something to chew on.
type byteTokenizer struct{}

func (byteTokenizer) Decode(tokenIDs []int) string {
	out := make([]byte, len(tokenIDs))
	for i, id := range tokenIDs {
		out[i] = byte('a' + (id % 26))
	}
	return string(out)
}

// softmaxProcessor converts logit rows into probability rows; no logit
// adjustments are configured in the harness.
type softmaxProcessor struct{}

func (softmaxProcessor) UpdateLogits(serve.Logits, []*serve.GenerationConfig, []*serve.RequestModelState, []string) {
}

func (softmaxProcessor) ProbsFromLogits(logits serve.Logits, _ []*serve.GenerationConfig, _ []string) serve.Probs {
	probs := make(serve.Probs, len(logits))
	for i, row := range logits {
		probs[i] = softmax(row)
	}
	return probs
}

func softmax(row []float32) []float32 {
	out := make([]float32, len(row))
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v))
	}
	for i, v := range row {
		out[i] = float32(math.Exp(float64(v)) / sum)
	}
	return out
}

// weightedSampler samples proportionally to the probability rows.
type weightedSampler struct{}

func (weightedSampler) RenormalizeByTopP(probs serve.Probs, _ []int, _ []string, _ []*serve.GenerationConfig) serve.Probs {
	return probs
}

func (weightedSampler) SampleWithProbAfterTopP(probs serve.Probs, sampleIndices []int, _ []string,
	_ []*serve.GenerationConfig, rngs []*rand.Rand) []serve.SampleResult {
	samples := make([]serve.SampleResult, len(sampleIndices))
	for i, rowIdx := range sampleIndices {
		row := probs[rowIdx]
		r := rngs[i].Float64()
		picked := len(row) - 1
		acc := 0.0
		for tok, p := range row {
			acc += float64(p)
			if r < acc {
				picked = tok
				break
			}
		}
		samples[i] = serve.SampleResult{
			TokenID: picked,
			LogProb: math.Log(float64(row[picked])),
		}
	}
	return samples
}

func runReplay(cfg serve.EngineConfig) error {
	backend := newKVBackend()
	models := []serve.Model{backend}

	var estate *serve.EngineState
	prefixCache := serve.NewTokenPrefixCache(cfg.PrefixCacheTokens, cfg.PrefixCacheBlockSize,
		func(seqID int64) {
			backend.RemoveSequence(seqID)
			estate.IDs.RecycleID(seqID)
		})
	estate = serve.NewEngineState(prefixCache)

	rngs := serve.NewPartitionedRNG(serve.EngineSeed(cfg.Seed))
	workloadRNG := rand.New(rand.NewSource(cfg.Seed))
	rec := trace.NewEventTrace()

	// Synthesize the workload up front.
	for i := 0; i < numRequests; i++ {
		promptLen := 8 + workloadRNG.Intn(48)
		prompt := make([]int, promptLen)
		for j := range prompt {
			prompt[j] = 1 + workloadRNG.Intn(vocabSize-1)
		}
		req := serve.NewRequest(fmt.Sprintf("req-%03d", i), []serve.Data{serve.NewTokenData(prompt)},
			&serve.GenerationConfig{
				N:            parallelSamples,
				Temperature:  1.0,
				TopP:         1.0,
				MaxTokens:    4 + workloadRNG.Intn(24),
				StopTokenIDs: []int{stopTokenID},
				LogProbs:     i%4 == 0,
			})
		estate.WaitingQueue.Enqueue(req)
	}

	streamedTokens := 0
	callback := func(outputs []*serve.RequestStreamOutput) {
		for _, out := range outputs {
			if out.Usage != nil {
				// The usage record is the request's final output; its RNG can go.
				rngs.Forget(out.RequestID)
				logrus.Infof("request %s usage: %s", out.RequestID, string(out.Usage))
				continue
			}
			for _, group := range out.Groups {
				streamedTokens += len(group.DeltaTokenIDs)
				if group.FinishReason != "" {
					logrus.Infof("request %s finished: %s", out.RequestID, group.FinishReason)
				}
			}
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(serve.NewEngineStateCollector(estate))

	tokenizer := byteTokenizer{}
	// Abort one mid-pack request partway through to exercise the abort path.
	abortID := fmt.Sprintf("req-%03d", numRequests/2)
	abortStep := 8

	step := 0
	for estate.RunningQueue.Len() > 0 || estate.WaitingQueue.Len() > 0 {
		step++
		admitRequests(estate, backend, cfg, rec)
		preemptOverBudget(estate, models, rec)
		if step == abortStep {
			estate.AbortRequest(abortID)
			trace.RecordEvent(rec, abortID, "abort")
		}

		worked := decodeStep(estate, rngs)
		serve.StepPostProcess(worked, estate, models, tokenizer, callback, cfg.MaxSequenceLength, rec)

		if estate.ConsumeDirty() {
			logrus.Debugf("[step %04d] active branch set changed", step)
		}
	}

	estate.Metrics.Print()
	fmt.Printf("Steps                : %d\n", step)
	fmt.Printf("Streamed Tokens      : %d\n", streamedTokens)
	fmt.Printf("Preempt Events       : %d\n", countEvents(rec, "preempt"))

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		logrus.Debugf("metric family %s: %d series", mf.GetName(), len(mf.GetMetric()))
	}
	return nil
}

// admitRequests moves requests from the waiting queue into the running set
// while capacity remains, prefilling their pending inputs in one shot.
func admitRequests(estate *serve.EngineState, backend *kvBackend, cfg serve.EngineConfig, rec trace.Recorder) {
	for estate.WaitingQueue.Len() > 0 && estate.RunningQueue.Len() < cfg.MaxRunningRequests {
		req := estate.WaitingQueue.Dequeue()
		if rstate, ok := estate.RequestStates[req.ID]; ok {
			// A preempted request resuming: re-prefill its pending branches.
			// With n > 1 the request may still be running on its surviving
			// branches, in which case it must not be enqueued twice.
			if !queueContains(estate.RunningQueue, req) {
				estate.RunningQueue.Enqueue(req)
			}
			for _, entry := range rstate.Entries {
				if entry.Status == serve.StatusPending {
					resumeEntry(entry, backend)
				}
			}
			estate.RunningEntriesChanged = true
			trace.RecordEvent(rec, req.ID, "resume")
			continue
		}

		rstate := estate.AdmitRequest(req, 1)
		trace.RecordEvent(rec, req.ID, "add")
		for _, entry := range rstate.Entries {
			entry.Status = serve.StatusAlive
			for _, mstate := range entry.MStates {
				prefill(mstate)
				backend.AddSequence(mstate.InternalID)
			}
		}
	}
}

// resumeEntry prefills a preempted branch's rebuilt inputs. The inputs
// already embed the branch's committed history, so the prefix-cache cursor
// jumps past it: every committed token lands in the backend KV cache during
// this prefill. The jump deliberately takes the cursor one past its usual
// ceiling of len(CommittedTokens)-1; the next committed token restores the
// bound before the synchronizer looks at it again.
func resumeEntry(entry *serve.RequestStateEntry, backend *kvBackend) {
	entry.Status = serve.StatusAlive
	for _, mstate := range entry.MStates {
		prefill(mstate)
		mstate.CachedCommittedTokens = len(mstate.CommittedTokens)
		backend.AddSequence(mstate.InternalID)
	}
}

func prefill(mstate *serve.RequestModelState) {
	mstate.PrefilledInputs = append(mstate.PrefilledInputs, mstate.Inputs...)
	mstate.NumPrefilledTokens += serve.DataLength(mstate.Inputs)
	mstate.Inputs = nil
}

// preemptOverBudget evicts branches until the backend token footprint fits
// the budget, mimicking the engine running out of KV capacity.
func preemptOverBudget(estate *serve.EngineState, models []serve.Model, rec trace.Recorder) {
	for estate.RunningQueue.Len() > 1 && backendFootprint(estate) > kvTokenBudget {
		serve.PreemptLastRunningEntry(estate, models, nil, rec)
	}
}

func queueContains(q *serve.RequestQueue, req *serve.Request) bool {
	for _, queued := range q.Items() {
		if queued == req {
			return true
		}
	}
	return false
}

func backendFootprint(estate *serve.EngineState) int {
	total := 0
	for _, req := range estate.RunningQueue.Items() {
		rstate := estate.GetRequestState(req)
		for _, entry := range rstate.Entries {
			if entry.Status == serve.StatusAlive {
				mstate := entry.PrimaryState()
				total += mstate.NumPrefilledTokens + len(mstate.CommittedTokens)
			}
		}
	}
	return total
}

// decodeStep fakes one forward pass: random logits for every alive branch,
// then the real coordinator pipeline, then token commits.
func decodeStep(estate *serve.EngineState, rngs *serve.PartitionedRNG) []*serve.Request {
	var (
		worked     []*serve.Request
		cfgs       []*serve.GenerationConfig
		requestIDs []string
		mstates    []*serve.RequestModelState
		branchRNGs []*rand.Rand
		indices    []int
	)
	for _, req := range estate.RunningQueue.Items() {
		rstate := estate.GetRequestState(req)
		touched := false
		for _, entry := range rstate.Entries {
			if entry.Status != serve.StatusAlive || len(entry.ChildIndices) > 0 {
				continue
			}
			cfgs = append(cfgs, req.GenerationCfg)
			requestIDs = append(requestIDs, req.ID)
			mstates = append(mstates, entry.PrimaryState())
			branchRNGs = append(branchRNGs, rngs.ForRequest(req.ID))
			indices = append(indices, len(indices))
			touched = true
		}
		if touched {
			worked = append(worked, req)
		}
	}
	if len(mstates) == 0 {
		return worked
	}

	logits := make(serve.Logits, len(mstates))
	for i, rng := range branchRNGs {
		row := make([]float32, vocabSize)
		for j := range row {
			row[j] = rng.Float32()
		}
		logits[i] = row
	}

	_, samples := serve.ApplyLogitProcessorAndSample(softmaxProcessor{}, weightedSampler{}, logits,
		cfgs, requestIDs, mstates, branchRNGs, indices, cfgs, requestIDs, indices)
	for i, sample := range samples {
		mstates[i].CommitToken(sample)
	}
	return worked
}

func countEvents(rec *trace.EventTrace, event string) int {
	count := 0
	for _, record := range rec.Events {
		if record.Event == event {
			count++
		}
	}
	return count
}
