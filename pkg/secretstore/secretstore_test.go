package secretstore

import (
	"encoding/base64"
	"testing"
)

func TestRoundTripAndMissingKey(t *testing.T) {
	st, err := Open(OpenOptions{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if _, found, err := st.GetString("clob:creds:0xabc"); err != nil || found {
		t.Fatalf("不存在的 key: found=%v err=%v, want false/nil", found, err)
	}

	if err := st.SetString("clob:creds:0xabc", `{"key":"k"}`); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	got, found, err := st.GetString("clob:creds:0xabc")
	if err != nil || !found {
		t.Fatalf("GetString: found=%v err=%v", found, err)
	}
	if got != `{"key":"k"}` {
		t.Fatalf("值 = %q", got)
	}
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	hexKey := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	for _, in := range []string{hexKey, "0x" + hexKey, base64.StdEncoding.EncodeToString(raw)} {
		b, err := ParseKey(in)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", in, err)
		}
		if len(b) != 32 || b[1] != 1 {
			t.Fatalf("ParseKey(%q) 解码结果不对", in)
		}
	}

	if b, err := ParseKey(""); err != nil || b != nil {
		t.Fatal("空输入应返回 nil, nil")
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Fatal("短密钥应报错")
	}
}
