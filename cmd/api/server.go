package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredCollect/pkg/cases"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/config"
	"github.com/mcclellann/fredCollect/pkg/ledger"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/notify"
	"github.com/mcclellann/fredCollect/pkg/payments"
	"github.com/mcclellann/fredCollect/pkg/ptp"
	"github.com/mcclellann/fredCollect/pkg/scheduler"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/mcclellann/fredCollect/pkg/users"
	"go.uber.org/zap"
)

// Batch job names, also used by POST /jobs/{name}.
const (
	jobBucketRefresh      = "bucket_refresh"
	jobExpirePTPs         = "expire_ptps"
	jobPTPReminders       = "ptp_reminders"
	jobReconcile          = "reconcile_payments"
	jobExpirePaymentLinks = "expire_payment_links"
)

// Server holds the services behind the HTTP API.
type Server struct {
	storage  store.Storage // Keep a reference to the storage to close it
	ledger   *ledger.Ledger
	users    *users.Directory
	cases    *cases.Manager
	ptps     *ptp.Engine
	payments *payments.Recorder
	jobs     *scheduler.Scheduler
	clock    clock.Clock
	log      *zap.Logger
}

// NewServer wires the services on s. Jobs with an empty spec can still be run on demand.
func NewServer(s store.Storage, msgr notify.Messenger, links payments.LinkConfig, specs config.SchedulerConfig, clk clock.Clock, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dir := users.NewDirectory(s, clk, log)
	l := ledger.NewLedger(s, clk, log)
	engine := ptp.NewEngine(s, msgr, clk, log)
	srv := &Server{
		storage:  s,
		ledger:   l,
		users:    dir,
		cases:    cases.NewManager(s, dir, clk, log),
		ptps:     engine,
		payments: payments.NewRecorder(s, l, engine, msgr, payments.NewLogPoster(log), links, clk, log),
		clock:    clk,
		log:      log.Named("api"),
	}

	jobs, err := scheduler.New(log,
		scheduler.Job{Name: jobBucketRefresh, Spec: specs.BucketRefresh, Run: srv.cases.UpdateDelinquencyBuckets},
		scheduler.Job{Name: jobExpirePTPs, Spec: specs.ExpirePTPs, Run: srv.ptps.ProcessExpiredPTPs},
		scheduler.Job{Name: jobPTPReminders, Spec: specs.PTPReminders, Run: srv.ptps.SendReminders},
		scheduler.Job{Name: jobReconcile, Spec: specs.Reconcile, Run: srv.payments.ReconcilePendingPayments},
		scheduler.Job{Name: jobExpirePaymentLinks, Spec: specs.ExpirePaymentLinks, Run: srv.payments.ExpirePaymentLinks},
	)
	if err != nil {
		return nil, err
	}
	srv.jobs = jobs
	return srv, nil
}

// Routes builds the router. Static segments are registered before {id} routes.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.openLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/balances", s.syncLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}/payments", s.listLoanPaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/payment-links", s.activeLinksHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payment-links", s.generateLinkHandler).Methods("POST")

	router.HandleFunc("/users", s.createUserHandler).Methods("POST")
	router.HandleFunc("/users/{id}", s.getUserHandler).Methods("GET")
	router.HandleFunc("/users/{id}", s.deactivateUserHandler).Methods("DELETE")
	router.HandleFunc("/users/{id}/manager", s.setManagerHandler).Methods("PUT")
	router.HandleFunc("/users/{id}/cases", s.myCasesHandler).Methods("GET")
	router.HandleFunc("/users/{id}/team-cases", s.teamCasesHandler).Methods("GET")

	router.HandleFunc("/cases", s.listCasesHandler).Methods("GET")
	router.HandleFunc("/cases", s.createCaseHandler).Methods("POST")
	router.HandleFunc("/cases/buckets", s.bucketDistributionHandler).Methods("GET")
	router.HandleFunc("/cases/assign-bulk", s.bulkAssignHandler).Methods("POST")
	router.HandleFunc("/cases/{id}", s.getCaseHandler).Methods("GET")
	router.HandleFunc("/cases/{id}", s.deleteCaseHandler).Methods("DELETE")
	router.HandleFunc("/cases/{id}/status", s.updateStatusHandler).Methods("PUT")
	router.HandleFunc("/cases/{id}/close", s.closeCaseHandler).Methods("POST")
	router.HandleFunc("/cases/{id}/assignment", s.assignCaseHandler).Methods("PUT")
	router.HandleFunc("/cases/{id}/bucket", s.moveBucketHandler).Methods("PUT")
	router.HandleFunc("/cases/{id}/priority", s.priorityHandler).Methods("PUT")
	router.HandleFunc("/cases/{id}/score", s.scoreHandler).Methods("POST")
	router.HandleFunc("/cases/{id}/notes", s.listNotesHandler).Methods("GET")
	router.HandleFunc("/cases/{id}/notes", s.addNoteHandler).Methods("POST")
	router.HandleFunc("/cases/{id}/history", s.historyHandler).Methods("GET")
	router.HandleFunc("/cases/{id}/analytics", s.caseAnalyticsHandler).Methods("GET")
	router.HandleFunc("/cases/{id}/ptps", s.listCasePTPsHandler).Methods("GET")
	router.HandleFunc("/cases/{id}/ptps", s.createPTPHandler).Methods("POST")
	router.HandleFunc("/cases/{id}/ptps/split", s.createSplitPTPHandler).Methods("POST")

	router.HandleFunc("/ptps/performance", s.ptpPerformanceHandler).Methods("GET")
	router.HandleFunc("/ptps/{id}", s.getPTPHandler).Methods("GET")
	router.HandleFunc("/ptps/{id}/kept", s.markKeptHandler).Methods("POST")
	router.HandleFunc("/ptps/{id}/partial", s.markPartialHandler).Methods("POST")
	router.HandleFunc("/ptps/{id}/broken", s.markBrokenHandler).Methods("POST")
	router.HandleFunc("/ptps/{id}/cancel", s.cancelPTPHandler).Methods("POST")
	router.HandleFunc("/ptps/{id}/reminders", s.sendReminderHandler).Methods("POST")
	router.HandleFunc("/ptps/{id}/follow-ups", s.createFollowUpHandler).Methods("POST")
	router.HandleFunc("/follow-ups/pending", s.pendingFollowUpsHandler).Methods("GET")
	router.HandleFunc("/follow-ups/{id}/complete", s.completeFollowUpHandler).Methods("POST")

	router.HandleFunc("/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/payments/unreconciled", s.unreconciledHandler).Methods("GET")
	router.HandleFunc("/payments/{id}", s.getPaymentHandler).Methods("GET")
	router.HandleFunc("/payments/{id}/status", s.paymentStatusHandler).Methods("PUT")
	router.HandleFunc("/payments/{id}/reverse", s.reversePaymentHandler).Methods("POST")
	router.HandleFunc("/payments/{id}/bounce", s.bouncePaymentHandler).Methods("POST")
	router.HandleFunc("/payments/{id}/reconcile", s.reconcilePaymentHandler).Methods("POST")
	router.HandleFunc("/payments/{id}/lms", s.postToLMSHandler).Methods("POST")

	router.HandleFunc("/payment-links/redeem", s.redeemLinkHandler).Methods("POST")
	router.HandleFunc("/payment-links/{linkId}", s.getLinkHandler).Methods("GET")

	router.HandleFunc("/analytics/portfolio", s.portfolioAnalyticsHandler).Methods("GET")
	router.HandleFunc("/analytics/payments", s.paymentAnalyticsHandler).Methods("GET")
	router.HandleFunc("/analytics/efficiency", s.efficiencyHandler).Methods("GET")
	router.HandleFunc("/analytics/payment-modes", s.modeDistributionHandler).Methods("GET")

	router.HandleFunc("/jobs/{name}", s.runJobHandler).Methods("POST")

	return router
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps a domain error code to an HTTP status.
func statusFor(err error) (int, string) {
	var de *models.DomainError
	if !errors.As(err, &de) {
		return http.StatusInternalServerError, "INTERNAL"
	}
	switch de.Code {
	case models.CodeNotFound:
		return http.StatusNotFound, de.Code
	case models.CodeConflict:
		return http.StatusConflict, de.Code
	case models.CodeInvalid:
		return http.StatusBadRequest, de.Code
	case models.CodeState:
		return http.StatusUnprocessableEntity, de.Code
	}
	return http.StatusInternalServerError, de.Code
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{models.ErrInvalidInput}, args...)...)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("malformed request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, badRequest("invalid id %q", mux.Vars(r)["id"])
	}
	return id, nil
}

// actor reads the acting user from X-User-ID. A missing header is the system.
func actor(r *http.Request) (uuid.UUID, error) {
	h := r.Header.Get("X-User-ID")
	if h == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(h)
	if err != nil {
		return uuid.Nil, badRequest("invalid X-User-ID header")
	}
	return id, nil
}

func queryID(r *http.Request, key string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, badRequest("invalid %s %q", key, v)
	}
	return &id, nil
}

// queryTime accepts RFC 3339 timestamps or plain dates (UTC midnight).
func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, badRequest("invalid %s %q", key, v)
}

func queryPage(r *http.Request) (models.Page, error) {
	var p models.Page
	for key, dst := range map[string]*int{"page": &p.Page, "page_size": &p.PageSize} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, badRequest("invalid %s %q", key, v)
		}
		*dst = n
	}
	return p.Normalize(), nil
}

type pageResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
