package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/models"
)

// TickerRunner is the narrow contract the ingress handler needs from the
// agent orchestrator, kept separate so the server package does not import
// the agent package's full surface.
type TickerRunner interface {
	Run(ctx context.Context, job models.TickerJob) models.RunResult
}

// tickerEnvelope is the batch invocation body of spec.md §6.
type tickerEnvelope struct {
	Tickers     []tickerInput `json:"tickers" validate:"required,min=1,dive"`
	CallbackURL string        `json:"callback_url" validate:"required,url"`
}

type tickerInput struct {
	Ticker          string `json:"ticker" validate:"required,uppercase,max=10"`
	ReportDate      string `json:"report_date" validate:"required,datetime=2006-01-02"`
	FiscalPeriodEnd string `json:"fiscal_period_end" validate:"omitempty,datetime=2006-01-02"`
	Timing          string `json:"timing" validate:"required,oneof=premarket afterhours"`
}

func (t tickerInput) toJob(callbackURL string) (models.TickerJob, error) {
	reportDate, err := time.Parse("2006-01-02", t.ReportDate)
	if err != nil {
		return models.TickerJob{}, err
	}

	job := models.TickerJob{
		Ticker:      t.Ticker,
		ReportDate:  reportDate,
		Timing:      models.Timing(t.Timing),
		CallbackURL: callbackURL,
	}
	if t.FiscalPeriodEnd != "" {
		fpe, err := time.Parse("2006-01-02", t.FiscalPeriodEnd)
		if err != nil {
			return models.TickerJob{}, err
		}
		job.FiscalPeriodEnd = fpe
	}
	return job, nil
}

// IngressHandler validates and fans out one batch invocation.
type IngressHandler struct {
	runner         TickerRunner
	validate       *validator.Validate
	maxConcurrency int
	logger         arbor.ILogger
}

// NewIngressHandler creates the batch-invocation handler.
func NewIngressHandler(runner TickerRunner, maxConcurrency int, logger arbor.ILogger) *IngressHandler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &IngressHandler{
		runner:         runner,
		validate:       validator.New(),
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// ServeHTTP decodes and validates the envelope, then fans out one
// orchestrator run per ticker in the background and acknowledges the batch
// immediately (spec.md §6: the ingress accepts a batch; this handler
// performs the fan-out to one orchestrator run per ticker itself).
func (h *IngressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var envelope tickerEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, interfaces.ErrInputInvalid.Error()+": "+err.Error())
		return
	}
	if err := h.validate.Struct(envelope); err != nil {
		writeError(w, http.StatusBadRequest, interfaces.ErrInputInvalid.Error()+": "+err.Error())
		return
	}

	jobs := make([]models.TickerJob, 0, len(envelope.Tickers))
	for _, t := range envelope.Tickers {
		job, err := t.toJob(envelope.CallbackURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, interfaces.ErrInputInvalid.Error()+": "+err.Error())
			return
		}
		jobs = append(jobs, job)
	}

	go h.fanOut(jobs)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int{"accepted": len(jobs)})
}

func (h *IngressHandler) fanOut(jobs []models.TickerJob) {
	g := &errgroup.Group{}
	g.SetLimit(h.maxConcurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			result := h.runner.Run(context.Background(), job)
			if result.Err != nil {
				h.logger.Error().Err(result.Err).Str("ticker", job.Ticker).Msg("ticker run finished with an error")
			}
			return nil
		})
	}
	_ = g.Wait()
}
