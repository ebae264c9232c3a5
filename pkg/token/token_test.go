package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
)

// testSecret はテスト用の署名シークレット。
var testSecret = []byte("test-secret-key-for-unit-tests")

// fixedClock は任意の時刻を返すテスト用の時計。
type fixedClock struct {
	t time.Time
}

func (f *fixedClock) Now() time.Time { return f.t }

func newTestCodec(t *testing.T, clock *fixedClock) *Codec {
	t.Helper()

	c, err := NewCodec(testSecret, 15*time.Minute, 7*24*time.Hour, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec()でエラーが発生: %v", err)
	}
	return c
}

var testSubject = Subject{
	ID:          "42",
	Email:       "a@x.com",
	Name:        "Alice",
	Permissions: []string{"ROLE_HR", "CREATE_JOB"},
}

// TestNewCodec はNewCodec関数の入力検証を確認する。
func TestNewCodec(t *testing.T) {
	t.Parallel()

	t.Run("シークレットが空の場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewCodec(nil, time.Minute, time.Hour); err == nil {
			t.Fatal("NewCodec()がエラーを返すべき")
		}
	})

	t.Run("有効期間が0以下の場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewCodec(testSecret, 0, time.Hour); err == nil {
			t.Fatal("NewCodec()がエラーを返すべき")
		}
	})
}

// TestIssueAccess はアクセストークンの発行を検証する。
func TestIssueAccess(t *testing.T) {
	t.Parallel()

	t.Run("クレームにユーザー情報と権限が含まれること", func(t *testing.T) {
		t.Parallel()

		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestCodec(t, clock)

		issued, err := c.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}

		claims, err := c.ParseAccess(issued.Token)
		if err != nil {
			t.Fatalf("ParseAccess()でエラーが発生: %v", err)
		}
		if claims.Email() != "a@x.com" {
			t.Errorf("Email = %q, want %q", claims.Email(), "a@x.com")
		}
		want := User{ID: "42", Email: "a@x.com", Name: "Alice"}
		if diff := cmp.Diff(want, claims.User); diff != "" {
			t.Errorf("User mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"ROLE_HR", "CREATE_JOB"}, claims.Permissions); diff != "" {
			t.Errorf("Permissions mismatch (-want +got):\n%s", diff)
		}
		if !issued.ExpiresAt.Equal(clock.t.Add(15 * time.Minute)) {
			t.Errorf("ExpiresAt = %v, want %v", issued.ExpiresAt, clock.t.Add(15*time.Minute))
		}
	})

	t.Run("同一秒に発行しても異なるトークンになること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t, &fixedClock{t: time.Unix(1_700_000_000, 0)})
		a, err := c.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}
		b, err := c.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}
		if a.Token == b.Token {
			t.Error("同一のトークンが発行された")
		}
	})

	t.Run("署名アルゴリズムがHS256であること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t, &fixedClock{t: time.Now()})
		issued, err := c.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}
		parsed, _, err := new(jwt.Parser).ParseUnverified(issued.Token, &Claims{})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if parsed.Method.Alg() != "HS256" {
			t.Errorf("署名アルゴリズム = %q, want %q", parsed.Method.Alg(), "HS256")
		}
	})
}

// TestIssueRefresh はリフレッシュトークンの発行を検証する。
func TestIssueRefresh(t *testing.T) {
	t.Parallel()

	t.Run("権限が含まれないこと", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t, &fixedClock{t: time.Now()})
		issued, err := c.IssueRefresh(testSubject)
		if err != nil {
			t.Fatalf("IssueRefresh()でエラーが発生: %v", err)
		}
		claims, err := c.ParseRefresh(issued.Token)
		if err != nil {
			t.Fatalf("ParseRefresh()でエラーが発生: %v", err)
		}
		if len(claims.Permissions) != 0 {
			t.Errorf("Permissions = %v, want empty", claims.Permissions)
		}
		if claims.User.ID != "42" {
			t.Errorf("User.ID = %q, want %q", claims.User.ID, "42")
		}
	})
}

// TestParse はトークン検証の失敗ケースを検証する。
func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("有効期限を過ぎたトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestCodec(t, clock)
		issued, err := c.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}

		clock.t = clock.t.Add(14 * time.Minute)
		if _, err := c.Parse(issued.Token); err != nil {
			t.Fatalf("有効期間内のトークンが拒否された: %v", err)
		}

		clock.t = clock.t.Add(2 * time.Minute)
		if _, err := c.Parse(issued.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("発行側の時計が進んでいても有効期間内なら受け付けること", func(t *testing.T) {
		t.Parallel()

		base := time.Unix(1_700_000_000, 0)
		issuer := newTestCodec(t, &fixedClock{t: base.Add(3 * time.Second)})
		edge := newTestCodec(t, &fixedClock{t: base})
		issued, err := issuer.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}
		claims, err := edge.ParseAccess(issued.Token)
		if err != nil {
			t.Fatalf("ParseAccess()でエラーが発生: %v", err)
		}
		if claims.Email() != testSubject.Email {
			t.Errorf("Email() = %q, want %q", claims.Email(), testSubject.Email)
		}
	})

	t.Run("異なるシークレットで署名されたトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		clock := &fixedClock{t: time.Now()}
		other, err := NewCodec([]byte("other-secret"), time.Minute, time.Hour, WithClock(clock.Now))
		if err != nil {
			t.Fatalf("NewCodec()でエラーが発生: %v", err)
		}
		issued, err := other.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}
		if _, err := newTestCodec(t, clock).Parse(issued.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("改ざんされたトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t, &fixedClock{t: time.Now()})
		issued, err := c.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}
		parts := strings.Split(issued.Token, ".")
		parts[1] = parts[1] + "x"
		if _, err := c.Parse(strings.Join(parts, ".")); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("形式が不正な文字列は拒否されること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t, &fixedClock{t: time.Now()})
		for _, raw := range []string{"", "abc", "a.b.c", "Bearer x.y.z"} {
			if _, err := c.Parse(raw); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidToken", raw, err)
			}
		}
	})

	t.Run("none署名のトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t, &fixedClock{t: time.Now()})
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    defaultIssuer,
				Subject:   "a@x.com",
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TokenType: TypeAccess,
		}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("none署名トークンの生成に失敗: %v", err)
		}
		if _, err := c.Parse(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("種類が異なるトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t, &fixedClock{t: time.Now()})
		refresh, err := c.IssueRefresh(testSubject)
		if err != nil {
			t.Fatalf("IssueRefresh()でエラーが発生: %v", err)
		}
		if _, err := c.ParseAccess(refresh.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ParseAccess(refresh) error = %v, want ErrInvalidToken", err)
		}
		access, err := c.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}
		if _, err := c.ParseRefresh(access.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ParseRefresh(access) error = %v, want ErrInvalidToken", err)
		}
	})
}

// TestRemaining は残り有効期間の計算を検証する。
func TestRemaining(t *testing.T) {
	t.Parallel()

	t.Run("発行直後は有効期間と同じ長さが残っていること", func(t *testing.T) {
		t.Parallel()

		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestCodec(t, clock)
		issued, err := c.IssueAccess(testSubject)
		if err != nil {
			t.Fatalf("IssueAccess()でエラーが発生: %v", err)
		}
		claims, err := c.Parse(issued.Token)
		if err != nil {
			t.Fatalf("Parse()でエラーが発生: %v", err)
		}
		if got := claims.Remaining(clock.t.Add(5 * time.Minute)); got != 10*time.Minute {
			t.Errorf("Remaining() = %v, want %v", got, 10*time.Minute)
		}
	})
}
