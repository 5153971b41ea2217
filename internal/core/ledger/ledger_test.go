package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkundi/tumapay/internal/adapter/storage"
	"github.com/mkundi/tumapay/internal/core/domain"
	"github.com/mkundi/tumapay/internal/core/handle"
	"github.com/mkundi/tumapay/internal/core/ledger"
)

// newService wires the engine to a fresh in-memory store. MinCost keeps
// bcrypt out of the test runtime.
func newService(t *testing.T, opts ...ledger.Option) (*ledger.Service, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	opts = append([]ledger.Option{ledger.WithHashCost(bcrypt.MinCost)}, opts...)
	return ledger.New(store, opts...), store
}

func signup(t *testing.T, svc *ledger.Service, name, email string) string {
	t.Helper()
	h, balance, err := svc.CreateAccount(context.Background(), name, email, "hunter2")
	require.NoError(t, err)
	require.Equal(t, domain.OpeningBalance, balance)
	return h
}

func TestCreateAccount(t *testing.T) {
	svc, store := newService(t)

	h, balance, err := svc.CreateAccount(context.Background(), "Asha", "asha@example.com", "hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(h, handle.Suffix))
	assert.Equal(t, domain.OpeningBalance, balance)

	acc, err := store.FindByHandle(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "Asha", acc.Name)
	assert.Equal(t, "asha@example.com", acc.Email)
	assert.NotEqual(t, "hunter2", acc.PasswordHash, "credential must not be stored in the clear")
}

func TestCreateAccount_Validation(t *testing.T) {
	svc, _ := newService(t)

	cases := []struct {
		name, accName, email, password string
	}{
		{"missing name", "", "a@example.com", "pw"},
		{"missing email", "Asha", "", "pw"},
		{"missing password", "Asha", "a@example.com", ""},
		{"whitespace name", "   ", "a@example.com", "pw"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.CreateAccount(context.Background(), tc.accName, tc.email, tc.password)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	svc, _ := newService(t)

	signup(t, svc, "Asha", "asha@example.com")
	_, _, err := svc.CreateAccount(context.Background(), "Imposter", "asha@example.com", "other")
	require.ErrorIs(t, err, domain.ErrAccountExists)
}

func TestCreateAccount_ConcurrentDuplicateEmail(t *testing.T) {
	svc, _ := newService(t)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.CreateAccount(context.Background(), "Asha", "asha@example.com", "pw")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, domain.ErrAccountExists)
		}
	}
	assert.Equal(t, 1, successes, "exactly one creation may win")
}

func TestCreateAccount_HandleCollision(t *testing.T) {
	attempts := 0
	svc, _ := newService(t, ledger.WithHandleGenerator(func() (string, error) {
		attempts++
		return "stuck@tumapay", nil
	}))

	_, _, err := svc.CreateAccount(context.Background(), "First", "first@example.com", "pw")
	require.NoError(t, err)

	attempts = 0
	_, _, err = svc.CreateAccount(context.Background(), "Second", "second@example.com", "pw")
	require.ErrorIs(t, err, domain.ErrHandleExhausted)
	assert.Equal(t, 5, attempts, "regeneration must be bounded")
}

func TestCreateAccount_RandomnessFailure(t *testing.T) {
	svc, _ := newService(t, ledger.WithHandleGenerator(func() (string, error) {
		return "", domain.ErrRandomness
	}))

	_, _, err := svc.CreateAccount(context.Background(), "Asha", "asha@example.com", "pw")
	require.ErrorIs(t, err, domain.ErrRandomness)
}

func TestLogin(t *testing.T) {
	svc, _ := newService(t)
	h := signup(t, svc, "Asha", "asha@example.com")

	gotHandle, balance, err := svc.Login(context.Background(), "asha@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, h, gotHandle)
	assert.Equal(t, domain.OpeningBalance, balance)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _ := newService(t)
	signup(t, svc, "Asha", "asha@example.com")

	// Unknown email and wrong password must be indistinguishable.
	_, _, errUnknown := svc.Login(context.Background(), "nobody@example.com", "hunter2")
	_, _, errWrongPw := svc.Login(context.Background(), "asha@example.com", "wrong")

	require.ErrorIs(t, errUnknown, domain.ErrInvalidCredentials)
	require.ErrorIs(t, errWrongPw, domain.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrongPw.Error())
}

func TestTransfer_MovesValue(t *testing.T) {
	svc, store := newService(t)
	a := signup(t, svc, "A", "a@example.com")
	b := signup(t, svc, "B", "b@example.com")

	rec, err := svc.Transfer(context.Background(), a, b, 300)
	require.NoError(t, err)
	assert.Equal(t, a, rec.SenderHandle)
	assert.Equal(t, b, rec.ReceiverHandle)
	assert.Equal(t, int64(300), rec.Amount)
	assert.False(t, rec.CommittedAt.IsZero())

	accA, err := store.FindByHandle(context.Background(), a)
	require.NoError(t, err)
	accB, err := store.FindByHandle(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, int64(700), accA.Balance)
	assert.Equal(t, int64(1300), accB.Balance)
	assert.Equal(t, int64(2000), accA.Balance+accB.Balance, "value must be conserved")

	history, err := store.ListFor(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(300), history[0].Amount)
}

func TestTransfer_Validation(t *testing.T) {
	svc, _ := newService(t)
	a := signup(t, svc, "A", "a@example.com")
	b := signup(t, svc, "B", "b@example.com")

	cases := []struct {
		name             string
		sender, receiver string
		amount           int64
	}{
		{"missing sender", "", b, 100},
		{"missing receiver", a, "", 100},
		{"zero amount", a, b, 0},
		{"negative amount", a, b, -5},
		{"self transfer", a, a, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(context.Background(), tc.sender, tc.receiver, tc.amount)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestTransfer_AccountNotFound(t *testing.T) {
	svc, _ := newService(t)
	a := signup(t, svc, "A", "a@example.com")

	_, err := svc.Transfer(context.Background(), "ghost@tumapay", a, 100)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "sender", nf.Which)

	_, err = svc.Transfer(context.Background(), a, "ghost@tumapay", 100)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "receiver", nf.Which)
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	svc, store := newService(t)
	a := signup(t, svc, "A", "a@example.com")
	b := signup(t, svc, "B", "b@example.com")

	_, err := svc.Transfer(context.Background(), a, b, 5000)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	accA, _ := store.FindByHandle(context.Background(), a)
	accB, _ := store.FindByHandle(context.Background(), b)
	assert.Equal(t, domain.OpeningBalance, accA.Balance)
	assert.Equal(t, domain.OpeningBalance, accB.Balance)

	history, err := store.ListFor(context.Background(), a)
	require.NoError(t, err)
	assert.Empty(t, history, "a rejected transfer must leave no record")
}

func TestTransfer_AtomicUnderWriteFailure(t *testing.T) {
	svc, store := newService(t)
	a := signup(t, svc, "A", "a@example.com")
	b := signup(t, svc, "B", "b@example.com")

	accB, err := store.FindByHandle(context.Background(), b)
	require.NoError(t, err)

	// Fail the receiver's balance write after the sender's already went
	// through inside the transaction.
	boom := errors.New("disk on fire")
	store.SaveBalanceHook = func(id uuid.UUID) error {
		if id == accB.ID {
			return boom
		}
		return nil
	}

	_, err = svc.Transfer(context.Background(), a, b, 300)
	require.Error(t, err)

	store.SaveBalanceHook = nil
	accA, _ := store.FindByHandle(context.Background(), a)
	accB, _ = store.FindByHandle(context.Background(), b)
	assert.Equal(t, domain.OpeningBalance, accA.Balance, "sender debit must be rolled back")
	assert.Equal(t, domain.OpeningBalance, accB.Balance)

	history, err := store.ListFor(context.Background(), a)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestTransfer_RetriesOnVersionConflict(t *testing.T) {
	svc, store := newService(t)
	a := signup(t, svc, "A", "a@example.com")
	b := signup(t, svc, "B", "b@example.com")

	conflicts := 1
	store.SaveBalanceHook = func(uuid.UUID) error {
		if conflicts > 0 {
			conflicts--
			return domain.ErrVersionConflict
		}
		return nil
	}

	rec, err := svc.Transfer(context.Background(), a, b, 300)
	require.NoError(t, err, "a single conflict must be absorbed by the retry loop")
	assert.Equal(t, int64(300), rec.Amount)
}

func TestTransfer_ConflictRetriesBounded(t *testing.T) {
	svc, store := newService(t)
	a := signup(t, svc, "A", "a@example.com")
	b := signup(t, svc, "B", "b@example.com")

	store.SaveBalanceHook = func(uuid.UUID) error {
		return domain.ErrVersionConflict
	}

	_, err := svc.Transfer(context.Background(), a, b, 300)
	require.ErrorIs(t, err, domain.ErrTransferConflict)
}

func TestTransfer_ConcurrentNoDoubleSpend(t *testing.T) {
	svc, store := newService(t)
	a := signup(t, svc, "A", "a@example.com")
	b := signup(t, svc, "B", "b@example.com")

	// Two transfers of 600 against a balance of 1000: at most one may win.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transfer(context.Background(), a, b, 600)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		ok := errors.Is(err, domain.ErrInsufficientBalance) || errors.Is(err, domain.ErrTransferConflict)
		assert.True(t, ok, "unexpected failure: %v", err)
	}
	require.LessOrEqual(t, successes, 1)

	accA, _ := store.FindByHandle(context.Background(), a)
	accB, _ := store.FindByHandle(context.Background(), b)
	assert.GreaterOrEqual(t, accA.Balance, int64(0))
	assert.Equal(t, 2*domain.OpeningBalance, accA.Balance+accB.Balance)
	if successes == 1 {
		assert.Equal(t, int64(400), accA.Balance)
		assert.Equal(t, int64(1600), accB.Balance)
	}
}

func TestHistory(t *testing.T) {
	svc, _ := newService(t)
	a := signup(t, svc, "A", "a@example.com")
	b := signup(t, svc, "B", "b@example.com")
	c := signup(t, svc, "C", "c@example.com")

	_, err := svc.Transfer(context.Background(), a, b, 100)
	require.NoError(t, err)
	_, err = svc.Transfer(context.Background(), b, c, 50)
	require.NoError(t, err)
	_, err = svc.Transfer(context.Background(), c, a, 25)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, history, 2, "b took part in two transfers")
	assert.Equal(t, b, history[0].ReceiverHandle)
	assert.Equal(t, b, history[1].SenderHandle)
	assert.False(t, history[1].CommittedAt.Before(history[0].CommittedAt), "history must be ascending")

	// Restartable: a second read with no intervening writes is identical.
	again, err := svc.History(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, history, again)
}

func TestHistory_UnknownHandle(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.History(context.Background(), "ghost@tumapay")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
