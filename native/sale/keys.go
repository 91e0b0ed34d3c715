package sale

import (
	"encoding/hex"
	"strconv"
)

var (
	paramsKey         = []byte("sale/params")
	statusKey         = []byte("sale/status")
	totalsKey         = []byte("sale/totals")
	timelinePrefix    = []byte("sale/timeline/")
	roundPrefix       = []byte("sale/round/")
	userPrefix        = []byte("sale/user/")
	referralPrefix    = []byte("sale/referral/")
	whitelistPrefix   = []byte("sale/whitelist/")
	kycPrefix         = []byte("sale/kyc/")
	purchaseIndexKey  = []byte("sale/purchases/index")
)

func appendKey(prefix []byte, suffix string) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

func timelineKey(id TimelineID) []byte {
	return appendKey(timelinePrefix, id.String())
}

func roundKey(id uint8) []byte {
	return appendKey(roundPrefix, strconv.Itoa(int(id)))
}

func userKey(addr [20]byte) []byte {
	return appendKey(userPrefix, hex.EncodeToString(addr[:]))
}

func referralKey(addr [20]byte) []byte {
	return appendKey(referralPrefix, hex.EncodeToString(addr[:]))
}

func whitelistKey(addr [20]byte) []byte {
	return appendKey(whitelistPrefix, hex.EncodeToString(addr[:]))
}

func kycKey(addr [20]byte) []byte {
	return appendKey(kycPrefix, hex.EncodeToString(addr[:]))
}
