package main

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredCollect/pkg/cases"
	"github.com/mcclellann/fredCollect/pkg/ledger"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/payments"
	"github.com/mcclellann/fredCollect/pkg/ptp"
	"github.com/mcclellann/fredCollect/pkg/users"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Loan accounts

func (s *Server) openLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.OpenAccountInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.ledger.OpenAccount(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.ledger.GetAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) syncLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ledger.SyncInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.ledger.SyncAccount(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// Users

func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var req users.CreateUserInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.users.CreateUser(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) getUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) deactivateUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.users.Deactivate(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setManagerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		ManagerID uuid.UUID `json:"manager_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.users.SetReportingManager(r.Context(), id, req.ManagerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) myCasesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.cases.MyCases(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) teamCasesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.cases.TeamCases(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// Cases

func (s *Server) createCaseHandler(w http.ResponseWriter, r *http.Request) {
	by, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		LoanAccountID uuid.UUID `json:"loan_account_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.cases.CreateCase(r.Context(), req.LoanAccountID, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listCasesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryPage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	assignee, err := queryID(r, "assigned_to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	customer, err := queryID(r, "customer_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := models.CaseFilter{
		Search:           q.Get("search"),
		Bucket:           models.Bucket(q.Get("bucket")),
		Status:           models.CaseStatus(q.Get("status")),
		AssignedToUserID: assignee,
		CustomerID:       customer,
		ProductVertical:  q.Get("vertical"),
		OpenOnly:         q.Get("open") == "true",
		Page:             page,
	}
	rows, total, err := s.cases.ListCases(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[*models.CollectionCase]{Items: rows, Total: total, Page: page.Page, PageSize: page.PageSize})
}

func (s *Server) getCaseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.cases.GetCase(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCaseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cases.SoftDeleteCase(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	by, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Status models.CaseStatus `json:"status"`
		Reason string            `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.cases.UpdateStatus(r.Context(), id, req.Status, req.Reason, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) closeCaseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	by, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		ResolutionType string `json:"resolution_type"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.cases.CloseCase(r.Context(), id, req.ResolutionType, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type assignRequest struct {
	ToUserID       uuid.UUID `json:"to_user_id"`
	AssignmentType string    `json:"assignment_type"`
	Reason         string    `json:"reason"`
}

func (s *Server) assignCaseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	by, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.cases.AssignCase(r.Context(), id, req.ToUserID, req.AssignmentType, req.Reason, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type bulkAssignResult struct {
	CaseID uuid.UUID `json:"case_id"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}

func (s *Server) bulkAssignHandler(w http.ResponseWriter, r *http.Request) {
	by, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		CaseIDs  []uuid.UUID `json:"case_ids"`
		ToUserID uuid.UUID   `json:"to_user_id"`
		Reason   string      `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	results := s.cases.AssignCasesBulk(r.Context(), req.CaseIDs, req.ToUserID, req.Reason, by)
	out := make([]bulkAssignResult, 0, len(results))
	for _, res := range results {
		item := bulkAssignResult{CaseID: res.CaseID, OK: res.Err == nil}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) moveBucketHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Bucket models.Bucket `json:"bucket"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.cases.MoveCaseToBucket(r.Context(), id, req.Bucket)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) priorityHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Priority int `json:"priority"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.cases.UpdateCasePriority(r.Context(), id, req.Priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// scoreHandler recomputes the probability of payment and then the collection score.
func (s *Server) scoreHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.cases.RecalculateProbabilityOfPayment(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.cases.UpdateCaseScore(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) bucketDistributionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dist, err := s.cases.BucketDistribution(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (s *Server) listNotesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	notes, err := s.cases.Notes(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) addNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	by, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req cases.NoteInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.cases.AddNote(r.Context(), id, req, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	statuses, err := s.cases.StatusHistory(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	assignments, err := s.cases.AssignmentHistory(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statuses, "assignments": assignments})
}

func (s *Server) caseAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.cases.CaseAnalytics(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	promises, err := s.ptps.CaseAnalytics(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": summary, "promises": promises})
}

func (s *Server) portfolioAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.cases.PortfolioAnalytics(r.Context(), userID, r.URL.Query().Get("vertical"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Promises to pay

func (s *Server) createPTPHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	by, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ptp.CreateInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.CollectionCaseID = id
	p, err := s.ptps.CreatePTP(r.Context(), req, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) createSplitPTPHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	by, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ptp.SplitInput
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.CollectionCaseID = id
	parent, children, err := s.ptps.CreateSplitPTP(r.Context(), req, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"parent": parent, "splits": children})
}

func (s *Server) listCasePTPsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.ptps.ListByCase(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getPTPHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ptps.GetPTP(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) markKeptHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		PaymentID uuid.UUID `json:"payment_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ptps.MarkKept(r.Context(), id, req.PaymentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) markPartialHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		PaymentID uuid.UUID       `json:"payment_id"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ptps.MarkPartiallyKept(r.Context(), id, req.PaymentID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) markBrokenHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ptps.MarkBroken(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) cancelPTPHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ptps.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) sendReminderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ptps.SendReminder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) ptpPerformanceHandler(w http.ResponseWriter, r *http.Request) {
	createdBy, err := queryID(r, "created_by")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	perf, err := s.ptps.Performance(r.Context(), createdBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) createFollowUpHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		FollowUpDate time.Time `json:"follow_up_date"`
		Channel      string    `json:"channel"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fu, err := s.ptps.CreateFollowUp(r.Context(), id, req.FollowUpDate, req.Channel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fu)
}

func (s *Server) pendingFollowUpsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.ptps.PendingFollowUps(r.Context(), s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) completeFollowUpHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fu, err := s.ptps.CompleteFollowUp(r.Context(), id, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fu)
}

// Payments

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Amount  decimal.Decimal        `json:"amount"`
		Mode    models.PaymentMode     `json:"mode"`
		Details *models.PaymentDetails `json:"details,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.RecordPayment(r.Context(), id, req.Amount, req.Mode, req.Details)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listLoanPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.payments.ListByLoanAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := queryPage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := models.PaymentFilter{
		Status: models.PaymentStatus(r.URL.Query().Get("status")),
		Mode:   models.PaymentMode(r.URL.Query().Get("mode")),
		From:   from,
		To:     to,
		Page:   page,
	}
	rows, total, err := s.payments.ListPayments(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[*models.Payment]{Items: rows, Total: total, Page: page.Page, PageSize: page.PageSize})
}

func (s *Server) unreconciledHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.payments.UnreconciledPayments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.GetPayment(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) paymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Status models.PaymentStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.UpdatePaymentStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) reversePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.ReversePayment(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) bouncePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.MarkBounced(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) reconcilePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.ReconcilePayment(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) postToLMSHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.PostPaymentToLMS(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) paymentAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.payments.PaymentAnalytics(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// requiredRange reads the from and to query parameters, both mandatory.
func requiredRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := queryTime(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := queryTime(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from == nil || to == nil {
		return time.Time{}, time.Time{}, badRequest("from and to are required")
	}
	return *from, *to, nil
}

func (s *Server) efficiencyHandler(w http.ResponseWriter, r *http.Request) {
	from, to, err := requiredRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cei, err := s.payments.CollectionEfficiencyIndex(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"collection_efficiency_index": cei})
}

func (s *Server) modeDistributionHandler(w http.ResponseWriter, r *http.Request) {
	from, to, err := requiredRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.payments.PaymentModeDistribution(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Payment links

func (s *Server) generateLinkHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Amount          decimal.Decimal `json:"amount"`
		ValidityHours   int             `json:"validity_hours"`
		AllowPartial    bool            `json:"allow_partial_payment"`
		DeliverTo       string          `json:"deliver_to"`
		DeliveryChannel string          `json:"delivery_channel"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	link, token, err := s.payments.GeneratePaymentLink(r.Context(), payments.LinkInput{
		LoanAccountID:   id,
		Amount:          req.Amount,
		Validity:        time.Duration(req.ValidityHours) * time.Hour,
		AllowPartial:    req.AllowPartial,
		DeliverTo:       req.DeliverTo,
		DeliveryChannel: req.DeliveryChannel,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"link": link, "token": token})
}

func (s *Server) activeLinksHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.payments.ActivePaymentLinks(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getLinkHandler(w http.ResponseWriter, r *http.Request) {
	link, err := s.payments.GetPaymentLink(r.Context(), mux.Vars(r)["linkId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) redeemLinkHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token         string `json:"token"`
		TransactionID string `json:"transaction_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.payments.ProcessPaymentLinkPayment(r.Context(), req.Token, req.TransactionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"redeemed": ok})
}

// Batch jobs

func (s *Server) runJobHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !slices.Contains(s.jobs.Jobs(), name) {
		s.writeError(w, r, fmt.Errorf("%w: job %q", models.ErrNotFound, name))
		return
	}
	n, err := s.jobs.RunNow(r.Context(), name)
	resp := map[string]any{"job": name, "updated": n}
	if err != nil {
		resp["error"] = err.Error()
		s.log.Warn("job run reported errors", zap.String("job", name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
