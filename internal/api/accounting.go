package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/signetfin/signet/internal/ledger"
	"github.com/signetfin/signet/internal/wire"
)

// Accounting is the accounting service: named accounts and the
// transfer, receipt and refund operations. Authorisations are resolved
// to a user through the verifier; the ledger enforces ownership from
// there.
type Accounting struct {
	*Service
	ledger   *ledger.Ledger
	verifier AuthVerifier
}

// NewAccounting assembles the accounting service.
func NewAccounting(svc *Service, l *ledger.Ledger, verifier AuthVerifier) *Accounting {
	return &Accounting{Service: svc, ledger: l, verifier: verifier}
}

// Router builds the accounting HTTP surface.
func (a *Accounting) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", a.HandleRoot).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/get-account-uids", a.handle("/get-account-uids", a.getAccountUIDs)).Methods(http.MethodPost)
	r.HandleFunc("/create-account", a.handle("/create-account", a.createAccount)).Methods(http.MethodPost)
	r.HandleFunc("/get-info", a.handle("/get-info", a.getInfo)).Methods(http.MethodPost)
	r.HandleFunc("/perform", a.handle("/perform", a.perform)).Methods(http.MethodPost)
	r.HandleFunc("/receipt", a.handle("/receipt", a.receipt)).Methods(http.MethodPost)
	r.HandleFunc("/refund", a.handle("/refund", a.refund)).Methods(http.MethodPost)
	return r
}

type AccountUIDsArgs struct {
	UserUID       string              `json:"user_uid,omitempty"`
	AccountName   string              `json:"account_name,omitempty"`
	Authorisation *wire.Authorisation `json:"authorisation,omitempty"`
}

// getAccountUIDs lists a user's accounts by uid and name. With an
// authorisation the whole namespace is visible; without one the caller
// must already name both the user and the account, which reveals
// nothing beyond the existence of a name they supplied.
func (a *Accounting) getAccountUIDs(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args AccountUIDsArgs
	if err := a.decodeArgs(req, &args); err != nil {
		return nil, err
	}

	userUID := args.UserUID
	if args.Authorisation != nil {
		auth := args.Authorisation
		args.Authorisation = nil
		verified, err := a.verifier.Verify(r.Context(), auth, args)
		if err != nil {
			return nil, err
		}
		userUID = verified
	} else if args.UserUID == "" || args.AccountName == "" {
		return nil, fmt.Errorf("%w: unauthenticated lookup requires user and account name", wire.ErrPermission)
	}

	uids, err := a.ledger.AccountUIDs(r.Context(), userUID, args.AccountName)
	if err != nil {
		return nil, err
	}
	return a.seal(req, map[string]any{"account_uids": uids}, nil)
}

type CreateAccountArgs struct {
	AccountName   string              `json:"account_name"`
	Description   string              `json:"description,omitempty"`
	Authorisation *wire.Authorisation `json:"authorisation,omitempty"`
}

func (a *Accounting) createAccount(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args CreateAccountArgs
	if err := a.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	auth := args.Authorisation
	args.Authorisation = nil
	userUID, err := a.verifier.Verify(r.Context(), auth, args)
	if err != nil {
		return nil, err
	}

	acct, err := a.ledger.CreateAccount(r.Context(), userUID, args.AccountName, args.Description)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("account created", "account_uid", acct.UID, "owner", userUID)
	return a.seal(req, map[string]any{"account": acct}, nil)
}

type AccountInfoArgs struct {
	AccountName   string              `json:"account_name"`
	Authorisation *wire.Authorisation `json:"authorisation,omitempty"`
}

func (a *Accounting) getInfo(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args AccountInfoArgs
	if err := a.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	auth := args.Authorisation
	args.Authorisation = nil
	userUID, err := a.verifier.Verify(r.Context(), auth, args)
	if err != nil {
		return nil, err
	}

	acct, err := a.ledger.AccountInfo(r.Context(), userUID, args.AccountName)
	if err != nil {
		return nil, err
	}
	return a.seal(req, map[string]any{"account": acct}, nil)
}

type PerformArgs struct {
	Transaction   *ledger.Transaction `json:"transaction"`
	IsProvisional bool                `json:"is_provisional,omitempty"`
	Authorisation *wire.Authorisation `json:"authorisation,omitempty"`
}

// perform applies a transfer out of an account the acting user owns. A
// provisional transfer only reserves value; the credited side later
// presents the resulting credit note for receipt or refund.
func (a *Accounting) perform(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args PerformArgs
	if err := a.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Transaction == nil {
		return nil, fmt.Errorf("%w: transaction is required", wire.ErrValue)
	}
	auth := args.Authorisation
	args.Authorisation = nil
	userUID, err := a.verifier.Verify(r.Context(), auth, args)
	if err != nil {
		return nil, err
	}

	records, err := a.ledger.Perform(r.Context(), userUID, args.Transaction, args.IsProvisional)
	if err != nil {
		return nil, err
	}
	return a.seal(req, map[string]any{"transactions": records}, nil)
}

type SettleArgs struct {
	CreditNote     *ledger.CreditNote  `json:"credit_note"`
	ReceiptedValue *decimal.Decimal    `json:"receipted_value,omitempty"`
	Authorisation  *wire.Authorisation `json:"authorisation,omitempty"`
}

func (a *Accounting) receipt(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args SettleArgs
	if err := a.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.CreditNote == nil {
		return nil, fmt.Errorf("%w: credit note is required", wire.ErrValue)
	}
	auth := args.Authorisation
	args.Authorisation = nil
	userUID, err := a.verifier.Verify(r.Context(), auth, args)
	if err != nil {
		return nil, err
	}

	record, err := a.ledger.Receipt(r.Context(), userUID, *args.CreditNote, args.ReceiptedValue)
	if err != nil {
		return nil, err
	}
	return a.seal(req, map[string]any{"transaction": record}, nil)
}

func (a *Accounting) refund(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error) {
	var args SettleArgs
	if err := a.decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.CreditNote == nil {
		return nil, fmt.Errorf("%w: credit note is required", wire.ErrValue)
	}
	auth := args.Authorisation
	args.Authorisation = nil
	userUID, err := a.verifier.Verify(r.Context(), auth, args)
	if err != nil {
		return nil, err
	}

	record, err := a.ledger.Refund(r.Context(), userUID, *args.CreditNote)
	if err != nil {
		return nil, err
	}
	return a.seal(req, map[string]any{"transaction": record}, nil)
}
