package models

// CaseStatus is the lifecycle state of a collection case.
type CaseStatus string

const (
	CaseStatusNew                  CaseStatus = "new_case"
	CaseStatusInProgress           CaseStatus = "in_progress"
	CaseStatusPromiseToPay         CaseStatus = "promise_to_pay"
	CaseStatusPartialRecovery      CaseStatus = "partial_recovery"
	CaseStatusFullRecovery         CaseStatus = "full_recovery"
	CaseStatusLegalActionInitiated CaseStatus = "legal_action_initiated"
	CaseStatusOnHold               CaseStatus = "on_hold"
	CaseStatusEscalated            CaseStatus = "escalated"
	CaseStatusClosed               CaseStatus = "closed"
	CaseStatusWrittenOff           CaseStatus = "written_off"
)

var caseStatuses = map[CaseStatus]bool{
	CaseStatusNew: true, CaseStatusInProgress: true, CaseStatusPromiseToPay: true,
	CaseStatusPartialRecovery: true, CaseStatusFullRecovery: true, CaseStatusLegalActionInitiated: true,
	CaseStatusOnHold: true, CaseStatusEscalated: true, CaseStatusClosed: true, CaseStatusWrittenOff: true,
}

// Valid reports whether s is a known case status.
func (s CaseStatus) Valid() bool { return caseStatuses[s] }

// Terminal reports whether the case is finished (closed or written off).
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusClosed || s == CaseStatusWrittenOff
}

// Bucket is a delinquency bucket, named after its days-past-due range.
type Bucket string

const (
	Bucket0To30    Bucket = "0-30"
	Bucket31To60   Bucket = "31-60"
	Bucket61To90   Bucket = "61-90"
	Bucket91To120  Bucket = "91-120"
	Bucket121To150 Bucket = "121-150"
	Bucket151To180 Bucket = "151-180"
	Bucket180Plus  Bucket = "180+"
)

// Buckets lists every bucket in ascending DPD order.
var Buckets = []Bucket{
	Bucket0To30, Bucket31To60, Bucket61To90, Bucket91To120, Bucket121To150, Bucket151To180, Bucket180Plus,
}

// BucketForDPD places a days-past-due count into its bucket.
func BucketForDPD(dpd int) Bucket {
	switch {
	case dpd <= 30:
		return Bucket0To30
	case dpd <= 60:
		return Bucket31To60
	case dpd <= 90:
		return Bucket61To90
	case dpd <= 120:
		return Bucket91To120
	case dpd <= 150:
		return Bucket121To150
	case dpd <= 180:
		return Bucket151To180
	default:
		return Bucket180Plus
	}
}

// Valid reports whether b is a known bucket.
func (b Bucket) Valid() bool {
	for _, known := range Buckets {
		if b == known {
			return true
		}
	}
	return false
}

// PTPStatus is the state of a promise to pay. Everything except Active is terminal.
type PTPStatus string

const (
	PTPStatusActive        PTPStatus = "active"
	PTPStatusKept          PTPStatus = "kept"
	PTPStatusPartiallyKept PTPStatus = "partially_kept"
	PTPStatusBroken        PTPStatus = "broken"
	PTPStatusExpired       PTPStatus = "expired"
	PTPStatusCancelled     PTPStatus = "cancelled"
)

// Terminal reports whether the promise can no longer change state.
func (s PTPStatus) Terminal() bool { return s != PTPStatusActive }

// PaymentStatus is the state of a recorded payment.
type PaymentStatus string

const (
	PaymentStatusInitiated           PaymentStatus = "initiated"
	PaymentStatusPending             PaymentStatus = "pending"
	PaymentStatusSuccess             PaymentStatus = "success"
	PaymentStatusFailed              PaymentStatus = "failed"
	PaymentStatusReversed            PaymentStatus = "reversed"
	PaymentStatusRefunded            PaymentStatus = "refunded"
	PaymentStatusBounced             PaymentStatus = "bounced"
	PaymentStatusUnderReconciliation PaymentStatus = "under_reconciliation"
	PaymentStatusReconciled          PaymentStatus = "reconciled"
)

// Undone reports whether the payment's monetary effect has been taken back.
func (s PaymentStatus) Undone() bool {
	return s == PaymentStatusReversed || s == PaymentStatusBounced
}

// PaymentMode is how the money was paid.
type PaymentMode string

const (
	PaymentModeCash           PaymentMode = "cash"
	PaymentModeCheque         PaymentMode = "cheque"
	PaymentModeUPI            PaymentMode = "upi"
	PaymentModeNEFT           PaymentMode = "neft"
	PaymentModeRTGS           PaymentMode = "rtgs"
	PaymentModeIMPS           PaymentMode = "imps"
	PaymentModeDebitCard      PaymentMode = "debit_card"
	PaymentModeCreditCard     PaymentMode = "credit_card"
	PaymentModeNetBanking     PaymentMode = "net_banking"
	PaymentModePaymentGateway PaymentMode = "payment_gateway"
	PaymentModePaymentLink    PaymentMode = "payment_link"
	PaymentModeAutoDebit      PaymentMode = "auto_debit"
	PaymentModePDC            PaymentMode = "pdc" // Post-dated cheque
)

var paymentModes = map[PaymentMode]bool{
	PaymentModeCash: true, PaymentModeCheque: true, PaymentModeUPI: true, PaymentModeNEFT: true,
	PaymentModeRTGS: true, PaymentModeIMPS: true, PaymentModeDebitCard: true, PaymentModeCreditCard: true,
	PaymentModeNetBanking: true, PaymentModePaymentGateway: true, PaymentModePaymentLink: true,
	PaymentModeAutoDebit: true, PaymentModePDC: true,
}

// Valid reports whether m is a known payment mode.
func (m PaymentMode) Valid() bool { return paymentModes[m] }

// UserRole is the role of a collections user.
type UserRole string

const (
	RoleRelationshipManager   UserRole = "relationship_manager"
	RoleExternalRecoveryAgent UserRole = "external_recovery_agent"
	RoleTeamLeader            UserRole = "team_leader"
	RoleVerticalHead          UserRole = "vertical_head"
	RoleSeniorManagement      UserRole = "senior_management"
	RoleSystemAdmin           UserRole = "system_admin"
)

// Assignment types recorded on CaseAssignmentHistory.
const (
	AssignmentInitial      = "initial"
	AssignmentReassignment = "reassignment"
	AssignmentEscalation   = "escalation"
	AssignmentBulk         = "bulk_assignment"
)
