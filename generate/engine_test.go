package generate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	evocaition "github.com/Paranoid-AF/evocaition"
	"github.com/Paranoid-AF/evocaition/command"
	"github.com/Paranoid-AF/evocaition/document"
	"github.com/Paranoid-AF/evocaition/invoke"
	"github.com/Paranoid-AF/evocaition/invoke/mocks"
)

const defaultPromptPrefix = "You are a creative writing specialist AI. Continue the following text:\n\n"

func testConfig() *evocaition.GenerationConfig {
	cfg := evocaition.DefaultConfig()
	cfg.ModelID = "m"
	return cfg
}

func testEngine(cfg *evocaition.GenerationConfig, runner invoke.Runner) *Engine {
	return NewEngine(
		WithConfig(StaticConfig{Config: cfg}),
		WithRunner(runner),
		WithLogger(zap.NewNop()),
		WithPromptFile(""),
	)
}

func storyWorkspace() (*document.Workspace, *document.Buffer) {
	ws := document.NewWorkspace()
	buf := document.NewBufferAtEnd("story", "Once upon a time")
	ws.Open(buf)
	return ws, buf
}

// argValue returns the value following name in argv.
func argValue(argv []string, name string) string {
	for i, a := range argv {
		if a == name && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}

func TestPrepareDefaultTemplateScenario(t *testing.T) {
	ws, _ := storyWorkspace()
	e := testEngine(testConfig(), nil)

	inv, err := e.Prepare(ws, command.ModeText)
	require.NoError(t, err)
	assert.Equal(t, defaultPromptPrefix+"Once upon a time", inv.Prompt)
	assert.Contains(t, inv.Command.String(), `--prompt "`+defaultPromptPrefix+`Once upon a time"`)
	assert.Equal(t, "story", inv.Snapshot.Ref.DocumentID)
}

func TestPredictInsertsText(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, argv []string) (string, error) {
		assert.Equal(t, "evocaition", argv[0])
		assert.Equal(t, defaultPromptPrefix+"Once upon a time", argValue(argv, "--prompt"))
		assert.Equal(t, "m", argValue(argv, "--model-id"))
		return ", there was a fox. It ran.", nil
	})

	ws, buf := storyWorkspace()
	text, err := testEngine(testConfig(), runner).Predict(context.Background(), ws, command.ModeText)
	require.NoError(t, err)
	assert.Equal(t, ", there was a fox. It ran.", text)
	assert.Equal(t, "Once upon a time, there was a fox. It ran.", buf.Text())
}

func TestPredictSentenceMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, argv []string) (string, error) {
		assert.Equal(t, "100", argValue(argv, "--max-tokens"))
		return " there was a fox. It ran away.", nil
	})

	ws, buf := storyWorkspace()
	text, err := testEngine(testConfig(), runner).Predict(context.Background(), ws, command.ModeSentence)
	require.NoError(t, err)
	assert.Equal(t, " there was a fox.", text)
	assert.Equal(t, "Once upon a time there was a fox.", buf.Text())
}

func TestPredictSentenceFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(" and then", nil)

	ws, buf := storyWorkspace()
	_, err := testEngine(testConfig(), runner).Predict(context.Background(), ws, command.ModeSentence)
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time and then.", buf.Text())
}

func TestPredictNoActiveDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	// no EXPECT: the tool must not run

	_, err := testEngine(testConfig(), runner).Predict(context.Background(), document.NewWorkspace(), command.ModeText)
	require.ErrorIs(t, err, document.ErrNoActiveDocument)
	assert.Equal(t, evocaition.CodeNoActiveDocument, AsError(err).Code)
}

func TestPredictProcessError(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return("", &invoke.ProcessError{Message: "exit status 1: model not found", ExitCode: 1})

	ws, buf := storyWorkspace()
	_, err := testEngine(testConfig(), runner).Predict(context.Background(), ws, command.ModeText)
	require.Error(t, err)
	assert.Equal(t, "Once upon a time", buf.Text(), "nothing is inserted on failure")

	e := AsError(err)
	assert.Equal(t, evocaition.CodeProcessError, e.Code)
	assert.Equal(t, "exit status 1: model not found", e.Message)
}

func TestPredictDocumentChanged(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	ws, buf := storyWorkspace()
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, []string) (string, error) {
		// the user switches documents while the tool runs
		ws.Open(document.NewBufferAtEnd("notes", "todo"))
		return " there was", nil
	})

	_, err := testEngine(testConfig(), runner).Predict(context.Background(), ws, command.ModeText)
	require.ErrorIs(t, err, document.ErrDocumentChanged)
	assert.Equal(t, evocaition.CodeDocumentChanged, AsError(err).Code)
	assert.Equal(t, "Once upon a time", buf.Text())
}

type failingConfig struct{}

func (failingConfig) Load() (*evocaition.GenerationConfig, error) {
	return nil, errors.New("toml: line 3: expected '='")
}

func TestPredictConfigError(t *testing.T) {
	ws, _ := storyWorkspace()
	e := NewEngine(WithConfig(failingConfig{}), WithPromptFile(""))
	_, err := e.Predict(context.Background(), ws, command.ModeText)
	require.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, evocaition.CodeConfigError, AsError(err).Code)
}

func TestPredictInvalidTool(t *testing.T) {
	cfg := testConfig()
	cfg.Tool = `"unterminated`
	ws, _ := storyWorkspace()
	_, err := testEngine(cfg, nil).Predict(context.Background(), ws, command.ModeText)
	assert.Equal(t, evocaition.CodeConfigError, AsError(err).Code)
}

func TestContextLengthLimitsPrompt(t *testing.T) {
	cfg := testConfig()
	cfg.DocumentContextCharacterLength = 4
	cfg.PromptTemplate = "[{{ .DocumentBefore }}]"

	ws, _ := storyWorkspace()
	inv, err := testEngine(cfg, nil).Prepare(ws, command.ModeText)
	require.NoError(t, err)
	assert.Equal(t, "[time]", inv.Prompt)
}

func TestDocumentAfterContext(t *testing.T) {
	cfg := testConfig()
	cfg.DocumentAfterCharacterLength = 5
	cfg.PromptTemplate = "{{ documentBefore }}|{{ documentAfter }}"

	ws := document.NewWorkspace()
	ws.Open(document.NewBuffer("doc", "left right side", evocaition.Position{Line: 0, Character: 5}))
	inv, err := testEngine(cfg, nil).Prepare(ws, command.ModeText)
	require.NoError(t, err)
	assert.Equal(t, "left | righ", inv.Prompt)
}

func TestCustomPromptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("Poem: {{ .DocumentBefore }}"), 0o644))

	ws, _ := storyWorkspace()
	e := NewEngine(WithConfig(StaticConfig{Config: testConfig()}), WithPromptFile(path))
	inv, err := e.Prepare(ws, command.ModeText)
	require.NoError(t, err)
	assert.Equal(t, "Poem: Once upon a time", inv.Prompt)

	// the promptTemplate setting wins over the file
	cfg := testConfig()
	cfg.PromptTemplate = "Setting: {{ .DocumentBefore }}"
	e = NewEngine(WithConfig(StaticConfig{Config: cfg}), WithPromptFile(path))
	inv, err = e.Prepare(ws, command.ModeText)
	require.NoError(t, err)
	assert.Equal(t, "Setting: Once upon a time", inv.Prompt)
}

func TestBrokenTemplateFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.PromptTemplate = "{{ .Missing"
	ws, _ := storyWorkspace()
	inv, err := testEngine(cfg, nil).Prepare(ws, command.ModeText)
	require.NoError(t, err)
	assert.Equal(t, defaultPromptPrefix+"Once upon a time", inv.Prompt)
}

func TestConfigReadPerInvocation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EVOCAITION_CONFIG_DIR", dir)
	t.Setenv("EVOCAITION_MODEL_ID", "")
	ws, _ := storyWorkspace()
	e := NewEngine(WithPromptFile(""))

	inv, err := e.Prepare(ws, command.ModeText)
	require.NoError(t, err)
	v, _ := inv.Command.Flag("--temp")
	assert.Equal(t, "1", v)

	_, err = evocaition.SetSetting("temperature", "0.4")
	require.NoError(t, err)
	inv, err = e.Prepare(ws, command.ModeText)
	require.NoError(t, err)
	v, _ = inv.Command.Flag("--temp")
	assert.Equal(t, "0.4", v)
}

func TestTriggerCancelSkipsInsertion(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	started := make(chan struct{})
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ []string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	ws, buf := storyWorkspace()
	task := testEngine(testConfig(), runner).Trigger(context.Background(), ws, command.ModeText)
	<-started
	task.Cancel()

	_, err := task.Result()
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, evocaition.CodeCancelled, AsError(err).Code)
	assert.Equal(t, "Once upon a time", buf.Text())
}

// countingHost counts Active calls on the wrapped host.
type countingHost struct {
	document.Host
	active atomic.Int32
}

func (h *countingHost) Active() (document.Document, error) {
	h.active.Add(1)
	return h.Host.Active()
}

func TestTriggerCapturesBeforeReturning(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	release := make(chan struct{})
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, []string) (string, error) {
		<-release
		return " late", nil
	})

	ws := document.NewWorkspace()
	a := document.NewBufferAtEnd("a", "abc")
	ws.Open(a)
	host := &countingHost{Host: ws}

	task := testEngine(testConfig(), runner).Trigger(context.Background(), host, command.ModeText)
	assert.Equal(t, int32(1), host.active.Load())
	require.NotNil(t, task.Invocation())
	assert.Equal(t, defaultPromptPrefix+"abc", task.Invocation().Prompt)
	assert.Equal(t, "a", task.Invocation().Snapshot.Ref.DocumentID)

	b := document.NewBufferAtEnd("b", "")
	ws.Open(b)
	close(release)

	_, err := task.Result()
	require.ErrorIs(t, err, document.ErrDocumentChanged)
	assert.Equal(t, "abc", a.Text())
	assert.Equal(t, "", b.Text())
}

func TestTriggerPrepareFailureFinishesTask(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	task := testEngine(testConfig(), runner).Trigger(context.Background(), document.NewWorkspace(), command.ModeText)
	select {
	case <-task.Done():
	default:
		t.Fatal("task should be done when no document is active")
	}
	_, err := task.Result()
	require.ErrorIs(t, err, document.ErrNoActiveDocument)
}

func TestTriggerTasksInsertInCompletionOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	release := map[string]chan struct{}{"slow": make(chan struct{}), "fast": make(chan struct{})}
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Times(2).DoAndReturn(func(_ context.Context, argv []string) (string, error) {
		name := "fast"
		if argValue(argv, "--max-tokens") == "100" {
			name = "slow"
		}
		<-release[name]
		return " " + name + ".", nil
	})

	ws, buf := storyWorkspace()
	e := testEngine(testConfig(), runner)
	slow := e.Trigger(context.Background(), ws, command.ModeSentence)
	fast := e.Trigger(context.Background(), ws, command.ModeText)

	close(release["fast"])
	_, err := fast.Result()
	require.NoError(t, err)
	close(release["slow"])
	_, err = slow.Result()
	require.NoError(t, err)

	assert.Equal(t, "Once upon a time fast. slow.", buf.Text())
}

func TestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutSeconds = 1
	ws, _ := storyWorkspace()

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ []string) (string, error) {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := testEngine(cfg, runner).Predict(context.Background(), ws, command.ModeText)
	e := AsError(err)
	assert.Equal(t, evocaition.CodeProcessError, e.Code)
	assert.True(t, strings.Contains(e.Message, "timed out"), e.Message)
}

func TestExecRunnerEndToEnd(t *testing.T) {
	// printf stands in for the tool; it prints its format argument, which is
	// "--plain" here, proving the argv reached the process unchanged.
	cfg := testConfig()
	cfg.Tool = "printf"
	ws, buf := storyWorkspace()

	_, err := testEngine(cfg, &invoke.ExecRunner{}).Predict(context.Background(), ws, command.ModeText)
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time--plain", buf.Text())
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))
	assert.Equal(t, evocaition.CodeInvalidConfigValue, AsError(evocaition.ErrInvalidConfigValue).Code)
	own := &evocaition.Error{Code: "x", Message: "y"}
	assert.Same(t, own, AsError(own))
	assert.Equal(t, evocaition.CodeProcessError, AsError(errors.New("boom")).Code)
}

func TestTaskInvocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(" there.", nil)

	ws, _ := storyWorkspace()
	task := testEngine(testConfig(), runner).Trigger(context.Background(), ws, command.ModeSentence)
	assert.Equal(t, command.ModeSentence, task.Mode())
	inv := task.Invocation()
	require.NotNil(t, inv)
	assert.Equal(t, defaultPromptPrefix+"Once upon a time", inv.Prompt)
	text, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, " there.", text)

	failed := testEngine(testConfig(), runner).Trigger(context.Background(), document.NewWorkspace(), command.ModeText)
	assert.Nil(t, failed.Invocation())
}
