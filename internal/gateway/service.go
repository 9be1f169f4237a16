package gateway

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmind/core-gateway/internal/admission"
	"github.com/openmind/core-gateway/internal/ledger"
	"github.com/openmind/core-gateway/internal/registry"
	"github.com/openmind/core-gateway/internal/store/model"
	"github.com/openmind/core-gateway/internal/transport"
	"github.com/openmind/core-gateway/internal/usage"
	"github.com/openmind/core-gateway/pkg/api"
)

// Service is the request router: admission, transport selection, dispatch,
// response translation, ledger reconciliation.
type Service interface {
	Chat(ctx context.Context, acct ledger.Account, providerID string, req *api.ChatRequest) (*api.ChatResponse, *api.Error)
	StreamChat(ctx context.Context, acct ledger.Account, providerID string, req *api.ChatRequest) (<-chan api.StreamResult, *api.Error)
	Providers() []*registry.ProviderSpec
}

type service struct {
	logger    *zap.Logger
	admission *admission.Controller
	ledger    *ledger.Ledger
	pool      *transport.Pool
	ingestor  usage.Ingestor
}

func NewService(logger *zap.Logger, adm *admission.Controller, led *ledger.Ledger, pool *transport.Pool, ing usage.Ingestor) Service {
	return &service{
		logger:    logger,
		admission: adm,
		ledger:    led,
		pool:      pool,
		ingestor:  ing,
	}
}

func (s *service) Providers() []*registry.ProviderSpec {
	return s.admission.Registry().Providers()
}

// Chat handles the unary path. The ticket reserved at admission is
// finalized on every exit: committed when the upstream call succeeds,
// released when it does not.
func (s *service) Chat(ctx context.Context, acct ledger.Account, providerID string, req *api.ChatRequest) (*api.ChatResponse, *api.Error) {
	spec, ticket, admErr := s.admission.Admit(acct, providerID, req)
	if admErr != nil {
		return nil, admErr
	}

	estimated := ticket.Units
	start := time.Now()

	resp, sendErr := s.pool.Send(ctx, spec, req)
	if sendErr != nil {
		_ = s.ledger.Release(ticket)
		s.logger.Warn("Upstream dispatch failed",
			zap.String("provider", spec.ID),
			zap.String("model", req.Model),
			zap.Error(sendErr))
		s.record(acct, spec, req, nil, estimated, 0, time.Since(start), nil, sendErr.HTTPStatus(), false)
		return nil, sendErr
	}

	actual := estimated
	if resp.Usage != nil {
		actual = ledger.UnitsForTokens(resp.Usage.TotalTokens)
	}
	if err := s.ledger.Commit(ticket, actual); err != nil {
		s.logger.Error("Ticket double-finalize on unary path", zap.Error(err))
	}

	finalizeResponse(resp, req.Model)
	s.record(acct, spec, req, resp.Usage, estimated, actual, time.Since(start), nil, 200, false)

	return resp, nil
}

// StreamChat relays upstream chunks in arrival order. The final chunk
// triggers the ledger commit; a transport failure or caller disconnect
// mid-stream triggers release of the reservation instead. Providers
// without streaming capability are dispatched unary and relayed as a
// single chunk.
func (s *service) StreamChat(ctx context.Context, acct ledger.Account, providerID string, req *api.ChatRequest) (<-chan api.StreamResult, *api.Error) {
	spec, ticket, admErr := s.admission.Admit(acct, providerID, req)
	if admErr != nil {
		return nil, admErr
	}

	if !spec.Streaming {
		return s.streamFromUnary(ctx, acct, spec, ticket, req)
	}

	upstream, dialErr := s.pool.Stream(ctx, spec, req)
	if dialErr != nil {
		_ = s.ledger.Release(ticket)
		return nil, dialErr
	}

	out := make(chan api.StreamResult)

	go func() {
		defer close(out)

		estimated := ticket.Units
		start := time.Now()
		var ttft *time.Duration
		var reported *api.ResponseUsage
		finishReason := ""

		for result := range upstream {
			if result.Err != nil {
				// upstream broke mid-stream: restore the reservation and
				// surface the normalized failure as the terminal chunk
				_ = s.ledger.Release(ticket)
				gwErr := api.Normalize(result.Err)
				s.record(acct, spec, req, reported, estimated, 0, time.Since(start), ttft, gwErr.HTTPStatus(), true)

				select {
				case out <- api.StreamResult{Err: gwErr}:
				case <-ctx.Done():
				}
				return
			}

			if result.Response != nil {
				if ttft == nil {
					dur := time.Since(start)
					ttft = &dur
				}
				if result.Response.Usage != nil {
					reported = result.Response.Usage
				}
				if len(result.Response.Choices) > 0 && result.Response.Choices[0].FinishReason != "" {
					finishReason = result.Response.Choices[0].FinishReason
				}
			}

			select {
			case out <- result:
			case <-ctx.Done():
				// caller disconnected: the shared context has already
				// cancelled the upstream request; restore the reservation
				_ = s.ledger.Release(ticket)
				s.record(acct, spec, req, reported, estimated, 0, time.Since(start), ttft, 499, true)
				return
			}
		}

		if ctx.Err() != nil {
			_ = s.ledger.Release(ticket)
			s.record(acct, spec, req, reported, estimated, 0, time.Since(start), ttft, 499, true)
			return
		}

		// stream ended cleanly: reconcile against reported usage, or let
		// the estimate stand when the upstream sent none
		actual := estimated
		if reported != nil {
			actual = ledger.UnitsForTokens(reported.TotalTokens)
		}
		if err := s.ledger.Commit(ticket, actual); err != nil {
			s.logger.Error("Ticket double-finalize on stream path", zap.Error(err))
		}

		rec := s.usageRow(acct, spec, req, reported, estimated, actual, time.Since(start), ttft, 200, true)
		rec.FinishReason = finishReason
		s.ingestor.Log(usage.Entry{Record: rec, BalanceAfter: s.ledger.Balance(acct.ID)})
	}()

	return out, nil
}

// streamFromUnary serves a stream:true request against a unary-only
// provider: one buffered upstream call relayed as a single chunk.
func (s *service) streamFromUnary(ctx context.Context, acct ledger.Account, spec *registry.ProviderSpec, ticket *ledger.Ticket, req *api.ChatRequest) (<-chan api.StreamResult, *api.Error) {
	out := make(chan api.StreamResult)

	go func() {
		defer close(out)

		estimated := ticket.Units
		start := time.Now()

		unary := *req
		unary.Stream = false

		resp, sendErr := s.pool.Send(ctx, spec, &unary)
		if sendErr != nil {
			_ = s.ledger.Release(ticket)
			s.record(acct, spec, req, nil, estimated, 0, time.Since(start), nil, sendErr.HTTPStatus(), true)
			select {
			case out <- api.StreamResult{Err: sendErr}:
			case <-ctx.Done():
			}
			return
		}

		actual := estimated
		if resp.Usage != nil {
			actual = ledger.UnitsForTokens(resp.Usage.TotalTokens)
		}
		if err := s.ledger.Commit(ticket, actual); err != nil {
			s.logger.Error("Ticket double-finalize on unary-relay path", zap.Error(err))
		}

		finalizeResponse(resp, req.Model)
		chunk := &api.ChatResponse{
			ID:      resp.ID,
			Object:  "chat.completion.chunk",
			Created: resp.Created,
			Model:   resp.Model,
			Usage:   resp.Usage,
		}
		for _, c := range resp.Choices {
			chunk.Choices = append(chunk.Choices, api.Choice{
				Index:        c.Index,
				Delta:        c.Message,
				FinishReason: c.FinishReason,
			})
		}

		dur := time.Since(start)
		s.record(acct, spec, req, resp.Usage, estimated, actual, dur, &dur, 200, true)

		select {
		case out <- api.StreamResult{Response: chunk}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// record builds and enqueues the usage row. Balance is read after
// reconciliation so the persisted value matches the ledger.
func (s *service) record(acct ledger.Account, spec *registry.ProviderSpec, req *api.ChatRequest, u *api.ResponseUsage, estimated, actual int64, latency time.Duration, ttft *time.Duration, status int, streamed bool) {
	rec := s.usageRow(acct, spec, req, u, estimated, actual, latency, ttft, status, streamed)
	s.ingestor.Log(usage.Entry{Record: rec, BalanceAfter: s.ledger.Balance(acct.ID)})
}

func (s *service) usageRow(acct ledger.Account, spec *registry.ProviderSpec, req *api.ChatRequest, u *api.ResponseUsage, estimated, actual int64, latency time.Duration, ttft *time.Duration, status int, streamed bool) *model.UsageRecord {
	rec := &model.UsageRecord{
		ID:             uuid.NewString(),
		AccountID:      acct.ID,
		Provider:       spec.ID,
		Model:          req.Model,
		EstimatedUnits: estimated,
		Units:          actual,
		LatencyMS:      latency.Milliseconds(),
		StatusCode:     status,
		IsStreamed:     streamed,
		CreatedAt:      time.Now(),
	}
	if u != nil {
		rec.PromptTokens = u.PromptTokens
		rec.CompletionTokens = u.CompletionTokens
		rec.TotalTokens = u.TotalTokens
	}
	if ttft != nil {
		rec.TTFTMS = sql.NullInt64{Int64: ttft.Milliseconds(), Valid: true}
	}
	return rec
}

// finalizeResponse fills the envelope fields some upstreams omit.
func finalizeResponse(resp *api.ChatResponse, model string) {
	if resp.ID == "" {
		resp.ID = "chatcmpl-" + uuid.NewString()
	}
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	if resp.Model == "" {
		resp.Model = model
	}
}
