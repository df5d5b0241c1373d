package ledgerv1

import (
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// wireMessage is implemented by every message of the ledger schema. The codec
// moves values through a dynamic message built from File.
type wireMessage interface {
	protoName() protoreflect.Name
	toProto(m protoreflect.Message)
	fromProto(m protoreflect.Message)
}

// MintRequest locks amount for lock_period.
type MintRequest struct {
	Amount     string `json:"amount"`
	LockPeriod string `json:"lock_period"`
}

func (*MintRequest) protoName() protoreflect.Name { return "MintRequest" }

func (r *MintRequest) toProto(m protoreflect.Message) {
	setString(m, "amount", r.Amount)
	setString(m, "lock_period", r.LockPeriod)
}

func (r *MintRequest) fromProto(m protoreflect.Message) {
	r.Amount = getString(m, "amount")
	r.LockPeriod = getString(m, "lock_period")
}

// MintResponse reports the minted tokens and the new deposit.
type MintResponse struct {
	Minted    string `json:"minted"`
	DepositID string `json:"deposit_id"`
}

func (*MintResponse) protoName() protoreflect.Name { return "MintResponse" }

func (r *MintResponse) toProto(m protoreflect.Message) {
	setString(m, "minted", r.Minted)
	setString(m, "deposit_id", r.DepositID)
}

func (r *MintResponse) fromProto(m protoreflect.Message) {
	r.Minted = getString(m, "minted")
	r.DepositID = getString(m, "deposit_id")
}

// BurnRequest withdraws amount oldest-deposit-first.
type BurnRequest struct {
	Amount string `json:"amount"`
}

func (*BurnRequest) protoName() protoreflect.Name { return "BurnRequest" }

func (r *BurnRequest) toProto(m protoreflect.Message)   { setString(m, "amount", r.Amount) }
func (r *BurnRequest) fromProto(m protoreflect.Message) { r.Amount = getString(m, "amount") }

// BurnDepositRequest withdraws amount from one deposit.
type BurnDepositRequest struct {
	DepositID string `json:"deposit_id"`
	Amount    string `json:"amount"`
}

func (*BurnDepositRequest) protoName() protoreflect.Name { return "BurnDepositRequest" }

func (r *BurnDepositRequest) toProto(m protoreflect.Message) {
	setString(m, "deposit_id", r.DepositID)
	setString(m, "amount", r.Amount)
}

func (r *BurnDepositRequest) fromProto(m protoreflect.Message) {
	r.DepositID = getString(m, "deposit_id")
	r.Amount = getString(m, "amount")
}

// BurnResponse reports a withdrawal. Penalty is burned on top of Burned.
type BurnResponse struct {
	Burned         string   `json:"burned"`
	Penalty        string   `json:"penalty"`
	ClosedDeposits []string `json:"closed_deposits"`
}

func (*BurnResponse) protoName() protoreflect.Name { return "BurnResponse" }

func (r *BurnResponse) toProto(m protoreflect.Message) {
	setString(m, "burned", r.Burned)
	setString(m, "penalty", r.Penalty)
	if len(r.ClosedDeposits) == 0 {
		return
	}
	l := m.Mutable(fieldOf(m, "closed_deposits")).List()
	for _, id := range r.ClosedDeposits {
		l.Append(protoreflect.ValueOfString(id))
	}
}

func (r *BurnResponse) fromProto(m protoreflect.Message) {
	r.Burned = getString(m, "burned")
	r.Penalty = getString(m, "penalty")
	l := m.Get(fieldOf(m, "closed_deposits")).List()
	r.ClosedDeposits = make([]string, 0, l.Len())
	for i := 0; i < l.Len(); i++ {
		r.ClosedDeposits = append(r.ClosedDeposits, l.Get(i).String())
	}
}

// GetBalanceRequest carries no fields; the caller is identified by its token.
type GetBalanceRequest struct{}

func (*GetBalanceRequest) protoName() protoreflect.Name  { return "GetBalanceRequest" }
func (*GetBalanceRequest) toProto(protoreflect.Message)   {}
func (*GetBalanceRequest) fromProto(protoreflect.Message) {}

// Deposit is an open deposit as seen by clients.
type Deposit struct {
	ID                     string    `json:"id"`
	Amount                 string    `json:"amount"`
	LockPeriod             string    `json:"lock_period"`
	DepositTime            time.Time `json:"deposit_time"`
	MaturesAt              time.Time `json:"matures_at"`
	InterestRate           float64   `json:"interest_rate"`
	EarlyWithdrawalPenalty float64   `json:"early_withdrawal_penalty"`
}

func (*Deposit) protoName() protoreflect.Name { return "Deposit" }

func (d *Deposit) toProto(m protoreflect.Message) {
	setString(m, "id", d.ID)
	setString(m, "amount", d.Amount)
	setString(m, "lock_period", d.LockPeriod)
	setTime(m, "deposit_time", d.DepositTime)
	setTime(m, "matures_at", d.MaturesAt)
	setDouble(m, "interest_rate", d.InterestRate)
	setDouble(m, "early_withdrawal_penalty", d.EarlyWithdrawalPenalty)
}

func (d *Deposit) fromProto(m protoreflect.Message) {
	d.ID = getString(m, "id")
	d.Amount = getString(m, "amount")
	d.LockPeriod = getString(m, "lock_period")
	d.DepositTime = getTime(m, "deposit_time")
	d.MaturesAt = getTime(m, "matures_at")
	d.InterestRate = m.Get(fieldOf(m, "interest_rate")).Float()
	d.EarlyWithdrawalPenalty = m.Get(fieldOf(m, "early_withdrawal_penalty")).Float()
}

// BalanceResponse is a user balance snapshot.
type BalanceResponse struct {
	AvailableBalance string    `json:"available_balance"`
	LockedBalance    string    `json:"locked_balance"`
	TotalBalance     string    `json:"total_balance"`
	RewardsEarned    string    `json:"rewards_earned"`
	Deposits         []Deposit `json:"deposits"`
}

func (*BalanceResponse) protoName() protoreflect.Name { return "BalanceResponse" }

func (r *BalanceResponse) toProto(m protoreflect.Message) {
	setString(m, "available_balance", r.AvailableBalance)
	setString(m, "locked_balance", r.LockedBalance)
	setString(m, "total_balance", r.TotalBalance)
	setString(m, "rewards_earned", r.RewardsEarned)
	if len(r.Deposits) == 0 {
		return
	}
	l := m.Mutable(fieldOf(m, "deposits")).List()
	for i := range r.Deposits {
		v := l.NewElement()
		r.Deposits[i].toProto(v.Message())
		l.Append(v)
	}
}

func (r *BalanceResponse) fromProto(m protoreflect.Message) {
	r.AvailableBalance = getString(m, "available_balance")
	r.LockedBalance = getString(m, "locked_balance")
	r.TotalBalance = getString(m, "total_balance")
	r.RewardsEarned = getString(m, "rewards_earned")
	l := m.Get(fieldOf(m, "deposits")).List()
	r.Deposits = make([]Deposit, l.Len())
	for i := range r.Deposits {
		r.Deposits[i].fromProto(l.Get(i).Message())
	}
}

// ApplyRewardsRequest carries no fields.
type ApplyRewardsRequest struct{}

func (*ApplyRewardsRequest) protoName() protoreflect.Name  { return "ApplyRewardsRequest" }
func (*ApplyRewardsRequest) toProto(protoreflect.Message)   {}
func (*ApplyRewardsRequest) fromProto(protoreflect.Message) {}

// ApplyRewardsResponse reports newly credited interest.
type ApplyRewardsResponse struct {
	Credited string `json:"credited"`
}

func (*ApplyRewardsResponse) protoName() protoreflect.Name { return "ApplyRewardsResponse" }

func (r *ApplyRewardsResponse) toProto(m protoreflect.Message) {
	setString(m, "credited", r.Credited)
}

func (r *ApplyRewardsResponse) fromProto(m protoreflect.Message) {
	r.Credited = getString(m, "credited")
}

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(name)
}

// proto3 scalars have no presence; zero values stay unset.

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	if v != "" {
		m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
	}
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(fieldOf(m, name)).String()
}

func setDouble(m protoreflect.Message, name protoreflect.Name, v float64) {
	if v != 0 {
		m.Set(fieldOf(m, name), protoreflect.ValueOfFloat64(v))
	}
}

func setTime(m protoreflect.Message, name protoreflect.Name, t time.Time) {
	if t.IsZero() {
		return
	}
	ts := timestamppb.New(t)
	sub := m.Mutable(fieldOf(m, name)).Message()
	if ts.GetSeconds() != 0 {
		sub.Set(fieldOf(sub, "seconds"), protoreflect.ValueOfInt64(ts.GetSeconds()))
	}
	if ts.GetNanos() != 0 {
		sub.Set(fieldOf(sub, "nanos"), protoreflect.ValueOfInt32(ts.GetNanos()))
	}
}

func getTime(m protoreflect.Message, name protoreflect.Name) time.Time {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return time.Time{}
	}
	sub := m.Get(fd).Message()
	ts := &timestamppb.Timestamp{
		Seconds: sub.Get(fieldOf(sub, "seconds")).Int(),
		Nanos:   int32(sub.Get(fieldOf(sub, "nanos")).Int()),
	}
	return ts.AsTime()
}
