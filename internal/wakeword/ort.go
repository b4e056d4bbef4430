package wakeword

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/logger"
)

// ortEnvOnce guards process-wide ONNX Runtime initialization.
var ortEnvOnce sync.Once

// ortRunner executes the three models with pre-allocated tensors, one
// advanced session per model.
type ortRunner struct {
	dim int

	melspecIn   *ort.Tensor[float32]
	melspecOut  *ort.Tensor[float32]
	melspecSess *ort.AdvancedSession

	embedIn   *ort.Tensor[float32]
	embedOut  *ort.Tensor[float32]
	embedSess *ort.AdvancedSession

	wwIn   *ort.Tensor[float32]
	wwOut  *ort.Tensor[float32]
	wwSess *ort.AdvancedSession
}

// newOrtRunner loads the melspectrogram, embedding, and classifier
// models. Any failure is wrapped in ErrModelLoad.
func newOrtRunner(cfg Config, log *logger.Logger) (*ortRunner, error) {
	var initErr error
	ortEnvOnce.Do(func() {
		ort.SetSharedLibraryPath(cfg.OnnxLib)
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("%w: onnxruntime init (lib=%s): %v", ErrModelLoad, cfg.OnnxLib, initErr)
	}

	r := &ortRunner{}
	fail := func(stage string, err error) (*ortRunner, error) {
		r.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, stage, err)
	}

	var err error

	// ── Melspectrogram ──────────────────────────────────────────
	if r.melspecIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, audio.FrameSamples)); err != nil {
		return fail("melspec input tensor", err)
	}
	if r.melspecOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, nMelFrames, melBins)); err != nil {
		return fail("melspec output tensor", err)
	}
	msIn, msOut, err := ort.GetInputOutputInfo(cfg.MelspecModel)
	if err != nil {
		return fail("melspec model info", err)
	}
	r.melspecSess, err = ort.NewAdvancedSession(cfg.MelspecModel,
		[]string{msIn[0].Name}, []string{msOut[0].Name},
		[]ort.Value{r.melspecIn}, []ort.Value{r.melspecOut}, nil)
	if err != nil {
		return fail("melspec session", err)
	}

	// ── Embedding ───────────────────────────────────────────────
	emIn, emOut, err := ort.GetInputOutputInfo(cfg.EmbeddingModel)
	if err != nil {
		return fail("embedding model info", err)
	}
	// The embedding width comes from the model itself: [1,1,1,dim].
	dims := emOut[0].Dimensions
	r.dim = int(dims[len(dims)-1])
	if r.dim <= 0 {
		r.dim = 96
	}
	if r.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindowSize, melBins, 1)); err != nil {
		return fail("embedding input tensor", err)
	}
	if r.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, int64(r.dim))); err != nil {
		return fail("embedding output tensor", err)
	}
	r.embedSess, err = ort.NewAdvancedSession(cfg.EmbeddingModel,
		[]string{emIn[0].Name}, []string{emOut[0].Name},
		[]ort.Value{r.embedIn}, []ort.Value{r.embedOut}, nil)
	if err != nil {
		return fail("embedding session", err)
	}

	// ── Wake-word classifier ────────────────────────────────────
	if r.wwIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.EmbeddingFrames), int64(r.dim))); err != nil {
		return fail("classifier input tensor", err)
	}
	if r.wwOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fail("classifier output tensor", err)
	}
	wwIn, wwOut, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return fail("classifier model info", err)
	}
	r.wwSess, err = ort.NewAdvancedSession(cfg.ModelPath,
		[]string{wwIn[0].Name}, []string{wwOut[0].Name},
		[]ort.Value{r.wwIn}, []ort.Value{r.wwOut}, nil)
	if err != nil {
		return fail("classifier session", err)
	}

	log.Debug("models loaded (embedding dim=%d, frames=%d)", r.dim, cfg.EmbeddingFrames)
	return r, nil
}

func (r *ortRunner) EmbeddingDim() int { return r.dim }

func (r *ortRunner) Melspec(chunk []float32) ([]float32, error) {
	copy(r.melspecIn.GetData(), chunk)
	if err := r.melspecSess.Run(); err != nil {
		return nil, err
	}
	out := make([]float32, nMelFrames*melBins)
	copy(out, r.melspecOut.GetData())
	return out, nil
}

func (r *ortRunner) Embed(mel []float32) ([]float32, error) {
	copy(r.embedIn.GetData(), mel)
	if err := r.embedSess.Run(); err != nil {
		return nil, err
	}
	out := make([]float32, r.dim)
	copy(out, r.embedOut.GetData())
	return out, nil
}

func (r *ortRunner) Score(embeddings []float32) (float32, error) {
	copy(r.wwIn.GetData(), embeddings)
	if err := r.wwSess.Run(); err != nil {
		return 0, err
	}
	return r.wwOut.GetData()[0], nil
}

func (r *ortRunner) Close() {
	if r.wwSess != nil {
		r.wwSess.Destroy()
	}
	if r.embedSess != nil {
		r.embedSess.Destroy()
	}
	if r.melspecSess != nil {
		r.melspecSess.Destroy()
	}
	for _, t := range []*ort.Tensor[float32]{r.wwOut, r.wwIn, r.embedOut, r.embedIn, r.melspecOut, r.melspecIn} {
		if t != nil {
			t.Destroy()
		}
	}
}
