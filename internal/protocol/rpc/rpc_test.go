package rpc

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAuthUnixCredentials() *UnixAuth {
	return &UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: "testhost",
		UID:         1000,
		GID:         1000,
		GIDs:        []uint32{4, 24, 27, 30},
	}
}

func encodeAuthUnix(auth *UnixAuth) []byte {
	buf := new(bytes.Buffer)

	_ = binary.Write(buf, binary.BigEndian, auth.Stamp)

	nameLen := uint32(len(auth.MachineName))
	_ = binary.Write(buf, binary.BigEndian, nameLen)
	buf.WriteString(auth.MachineName)
	padding := (4 - (nameLen % 4)) % 4
	for i := uint32(0); i < padding; i++ {
		buf.WriteByte(0)
	}

	_ = binary.Write(buf, binary.BigEndian, auth.UID)
	_ = binary.Write(buf, binary.BigEndian, auth.GID)

	_ = binary.Write(buf, binary.BigEndian, uint32(len(auth.GIDs)))
	for _, gid := range auth.GIDs {
		_ = binary.Write(buf, binary.BigEndian, gid)
	}

	return buf.Bytes()
}

func TestParseUnixAuth(t *testing.T) {
	t.Run("ParsesValidCredentials", func(t *testing.T) {
		original := validAuthUnixCredentials()
		body := encodeAuthUnix(original)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, original.Stamp, parsed.Stamp)
		assert.Equal(t, original.MachineName, parsed.MachineName)
		assert.Equal(t, original.UID, parsed.UID)
		assert.Equal(t, original.GID, parsed.GID)
		assert.Equal(t, original.GIDs, parsed.GIDs)
	})

	t.Run("ParsesRootCredentials", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       uint32(time.Now().Unix()),
			MachineName: "testhost",
			UID:         0,
			GID:         0,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), parsed.UID)
		assert.Equal(t, uint32(0), parsed.GID)
		assert.Empty(t, parsed.GIDs)
	})

	t.Run("ParsesWithMaximumGroups", func(t *testing.T) {
		gids := make([]uint32, 16)
		for i := range gids {
			gids[i] = uint32(i + 1000)
		}

		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        gids,
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Len(t, parsed.GIDs, 16)
		assert.Equal(t, gids, parsed.GIDs)
	})

	t.Run("RejectsExcessiveGroups", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(8))
		_, _ = buf.WriteString("testhost")
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(17)) // too many groups

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many gids")
	})

	t.Run("RejectsLongMachineName", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(256)) // too long

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "machine name too long")
	})

	t.Run("RejectsEmptyBody", func(t *testing.T) {
		_, err := ParseUnixAuth([]byte{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("HandlesEmptyMachineName", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, "", parsed.MachineName)
	})
}

func TestUnixAuthString(t *testing.T) {
	t.Run("FormatsCorrectly", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{4, 24, 27, 30},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "1000")
		assert.Contains(t, str, "[4 24 27 30]")
	})

	t.Run("FormatsEmptyGroups", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "[]")
	})
}

func TestAuthFlavors(t *testing.T) {
	t.Run("AuthNullValue", func(t *testing.T) {
		assert.Equal(t, uint32(0), AuthNull)
	})

	t.Run("AuthUnixValue", func(t *testing.T) {
		assert.Equal(t, uint32(1), AuthUnix)
	})

	t.Run("AuthShortValue", func(t *testing.T) {
		assert.Equal(t, uint32(2), AuthShort)
	})

	t.Run("AuthDESValue", func(t *testing.T) {
		assert.Equal(t, uint32(3), AuthDES)
	})

	t.Run("FlavorsAreUnique", func(t *testing.T) {
		flavors := []uint32{AuthNull, AuthUnix, AuthShort, AuthDES}

		seen := make(map[uint32]bool)
		for _, flavor := range flavors {
			assert.False(t, seen[flavor], "flavor %d is not unique", flavor)
			seen[flavor] = true
		}
	})
}

func TestMakeProgMismatchReply(t *testing.T) {
	t.Run("GeneratesValidReply", func(t *testing.T) {
		xid := uint32(0x12345678)
		low := uint32(3)
		high := uint32(3)

		reply, err := MakeProgMismatchReply(xid, low, high)
		require.NoError(t, err)
		require.NotNil(t, reply)

		assert.GreaterOrEqual(t, len(reply), 36)

		fragHeader := binary.BigEndian.Uint32(reply[0:4])
		assert.True(t, (fragHeader&0x80000000) != 0, "last fragment bit should be set")
		fragLen := fragHeader & 0x7FFFFFFF
		assert.Equal(t, uint32(len(reply)-4), fragLen, "fragment length should match payload")

		replyXID := binary.BigEndian.Uint32(reply[4:8])
		assert.Equal(t, xid, replyXID, "XID should match")

		msgType := binary.BigEndian.Uint32(reply[8:12])
		assert.Equal(t, uint32(RPCReply), msgType, "MsgType should be REPLY")

		replyState := binary.BigEndian.Uint32(reply[12:16])
		assert.Equal(t, uint32(RPCMsgAccepted), replyState, "ReplyState should be MSG_ACCEPTED")
	})

	t.Run("EncodesVersionRange", func(t *testing.T) {
		xid := uint32(0xABCD1234)
		low := uint32(2)
		high := uint32(4)

		reply, err := MakeProgMismatchReply(xid, low, high)
		require.NoError(t, err)

		replyLen := len(reply)
		lowVersion := binary.BigEndian.Uint32(reply[replyLen-8 : replyLen-4])
		highVersion := binary.BigEndian.Uint32(reply[replyLen-4 : replyLen])

		assert.Equal(t, low, lowVersion, "low version should be encoded correctly")
		assert.Equal(t, high, highVersion, "high version should be encoded correctly")
	})

	t.Run("HandlesSameVersionForLowAndHigh", func(t *testing.T) {
		xid := uint32(0x11111111)
		version := uint32(3)

		reply, err := MakeProgMismatchReply(xid, version, version)
		require.NoError(t, err)
		require.NotNil(t, reply)

		replyLen := len(reply)
		lowVersion := binary.BigEndian.Uint32(reply[replyLen-8 : replyLen-4])
		highVersion := binary.BigEndian.Uint32(reply[replyLen-4 : replyLen])

		assert.Equal(t, version, lowVersion)
		assert.Equal(t, version, highVersion)
	})

	t.Run("RejectsInvalidVersionRange", func(t *testing.T) {
		xid := uint32(0x12345678)
		low := uint32(5)
		high := uint32(3)

		reply, err := MakeProgMismatchReply(xid, low, high)
		require.Error(t, err)
		assert.Nil(t, reply)
		assert.Contains(t, err.Error(), "invalid version range")
		assert.Contains(t, err.Error(), "low (5) > high (3)")
	})

	t.Run("HandlesZeroXID", func(t *testing.T) {
		reply, err := MakeProgMismatchReply(0, 3, 3)
		require.NoError(t, err)
		require.NotNil(t, reply)

		replyXID := binary.BigEndian.Uint32(reply[4:8])
		assert.Equal(t, uint32(0), replyXID)
	})

	t.Run("HandlesMaxXID", func(t *testing.T) {
		maxXID := uint32(0xFFFFFFFF)
		reply, err := MakeProgMismatchReply(maxXID, 3, 3)
		require.NoError(t, err)
		require.NotNil(t, reply)

		replyXID := binary.BigEndian.Uint32(reply[4:8])
		assert.Equal(t, maxXID, replyXID)
	})

	t.Run("ContainsProgMismatchStatus", func(t *testing.T) {
		reply, err := MakeProgMismatchReply(0x1234, 3, 3)
		require.NoError(t, err)

		acceptStat := binary.BigEndian.Uint32(reply[24:28])
		assert.Equal(t, uint32(RPCProgMismatch), acceptStat, "AcceptStat should be PROG_MISMATCH")
	})
}

func TestReadCallRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint32(0xCAFEBABE)) // xid
	_ = binary.Write(buf, binary.BigEndian, RPCCall)
	_ = binary.Write(buf, binary.BigEndian, RPCVersion)
	_ = binary.Write(buf, binary.BigEndian, uint32(100003)) // NFS program
	_ = binary.Write(buf, binary.BigEndian, uint32(3))
	_ = binary.Write(buf, binary.BigEndian, uint32(6)) // READ
	_ = binary.Write(buf, binary.BigEndian, AuthNull)
	_ = binary.Write(buf, binary.BigEndian, uint32(0)) // cred body len
	_ = binary.Write(buf, binary.BigEndian, AuthNull)
	_ = binary.Write(buf, binary.BigEndian, uint32(0)) // verf body len
	buf.WriteString("ARGUMENT-DATA")

	call, err := ReadCall(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), call.XID)
	assert.Equal(t, uint32(100003), call.Program)
	assert.Equal(t, uint32(3), call.Version)
	assert.Equal(t, uint32(6), call.Procedure)

	data, err := ReadData(buf.Bytes(), call)
	require.NoError(t, err)
	assert.Equal(t, "ARGUMENT-DATA", string(data))
}

func TestReadCallRejectsWrongMsgType(t *testing.T) {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint32(1))
	_ = binary.Write(buf, binary.BigEndian, RPCReply) // wrong: should be RPCCall
	_, err := ReadCall(buf.Bytes())
	require.Error(t, err)
}

func TestParseShortAuth(t *testing.T) {
	t.Run("DecodesOpaqueHandle", func(t *testing.T) {
		var buf bytes.Buffer
		handle := []byte{0xDE, 0xAD, 0xBE, 0xEF}
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(handle)))
		buf.Write(handle)

		short, err := ParseShortAuth(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, handle, short.Handle)
	})

	t.Run("DecodesUnpaddedLength", func(t *testing.T) {
		var buf bytes.Buffer
		handle := []byte{0x01, 0x02, 0x03}
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(handle)))
		buf.Write(handle)
		buf.Write([]byte{0x00}) // XDR alignment padding to a 4-byte boundary

		short, err := ParseShortAuth(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, handle, short.Handle)
	})

	t.Run("RejectsTruncatedBody", func(t *testing.T) {
		_, err := ParseShortAuth([]byte{0x00, 0x00, 0x00, 0x10})
		require.Error(t, err)
	})
}
