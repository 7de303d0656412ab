package xid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("sale")
	b := New("sale")
	require.True(t, strings.HasPrefix(a, "sale-"))
	require.NotEqual(t, a, b)
}

func TestReceiptFormat(t *testing.T) {
	at := time.Date(2026, 3, 7, 9, 4, 5, 0, time.UTC)

	require.Equal(t, "RCP20260307-090405", Receipt("", at, 1))
	require.Equal(t, "POS20260307-090405", Receipt("POS", at, 0))
	require.Equal(t, "RCP20260307-090405-3", Receipt("RCP", at, 3))
}
