package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeGatewayTXT creates the TXT records of a gateway.
func EncodeGatewayTXT(info *GatewayInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyAddress: info.Address.String(),
		TXTKeyVersion: info.Version,
	}
	if info.Version == "" {
		txt[TXTKeyVersion] = version.Protocol
	}
	if info.GroupID != 0 {
		txt[TXTKeyGroupID] = strconv.FormatUint(uint64(info.GroupID), 10)
	}
	return txt
}

// DecodeGatewayTXT parses the TXT records of a gateway. It does not
// check version compatibility.
func DecodeGatewayTXT(txt TXTRecordMap) (*GatewayInfo, error) {
	info := &GatewayInfo{}

	addr, ok := txt[TXTKeyAddress]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyAddress)
	}
	a, err := link.ParseAddress(addr)
	if err != nil || a == link.Unassigned || a == link.Broadcast {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	info.Address = a

	info.Version, ok = txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}

	if gid, ok := txt[TXTKeyGroupID]; ok {
		v, err := strconv.ParseUint(gid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", TXTKeyGroupID, gid, err)
		}
		info.GroupID = uint32(v)
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value"
// strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
