package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// DecodeKV parses one ASCII key/value line: `type key1=value1,key2=value2,...`.
// The type name is matched case-insensitively. Returns *Error (never a
// generic error) on malformed input so callers can treat it uniformly as
// a transport fault per spec.md §7.
func DecodeKV(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, &Error{Reason: "empty line"}
	}

	typ, rest, _ := strings.Cut(line, " ")
	typ = strings.ToLower(strings.TrimSpace(typ))
	rest = strings.TrimSpace(rest)

	kv := make(map[string]string)
	if rest != "" {
		for _, pair := range strings.Split(rest, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || strings.Contains(v, "=") {
				return nil, &Error{Reason: "malformed kv pair: " + pair}
			}
			kv[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}

	addr := Address{GID: kv["gid"], UID: kv["uid"], CID: kv["cid"]}

	switch typ {
	case "register":
		return &Register{Base: Base{addr, KindRegister}, Role: kv["role"]}, nil

	case "mount-status", "mount":
		st, err := kvFloats(kv, "ra", "dec", "azi", "alt")
		if err != nil {
			return nil, err
		}
		return &MountStatus{
			Base:    Base{addr, KindMountStatus},
			UTC:     kv["utc"],
			State:   kv["state"],
			ErrCode: kvIntOr(kv, "errcode", 0),
			RA:      st[0], Dec: st[1], Azi: st[2], Alt: st[3],
		}, nil

	case "camera-status", "camera":
		return &CameraStatus{
			Base:     Base{addr, KindCamStatus},
			UTC:      kv["utc"],
			State:    kv["state"],
			ErrCode:  kvIntOr(kv, "errcode", 0),
			CoolGet:  kvFloatOr(kv, "coolget", 0),
			Filter:   kv["filter"],
			SeqNo:    kvIntOr(kv, "seqno", 0),
			Filename: kv["filename"],
		}, nil

	case "focus-status", "focus":
		pos, err := strconv.Atoi(kv["position"])
		if err != nil {
			return nil, &Error{Reason: "focus-status: bad position"}
		}
		return &FocusStatus{Base: Base{addr, KindFocusStatus}, Position: pos}, nil

	case "slew-to", "slewto":
		cs, c1, c2, err := kvCoors(kv)
		if err != nil {
			return nil, err
		}
		return &SlewTo{Base: Base{addr, KindSlewTo}, CoorSys: cs, Coor1: c1, Coor2: c2}, nil

	case "track":
		if kv["line1"] == "" || kv["line2"] == "" {
			return nil, &Error{Reason: "track: missing line1/line2"}
		}
		return &Track{
			Base:       Base{addr, KindTrack},
			ObjectName: kv["object"],
			Line1:      kv["line1"],
			Line2:      kv["line2"],
		}, nil

	case "home-sync", "homesync":
		return &HomeSync{Base{addr, KindHomeSync}}, nil
	case "park":
		return &Park{Base{addr, KindPark}}, nil
	case "abort-slew", "abortslew":
		return &AbortSlew{Base{addr, KindAbortSlew}}, nil
	case "abort-image", "abortimage":
		return &AbortImage{Base{addr, KindAbortImage}}, nil
	case "abort-plan", "abortplan":
		return &AbortPlan{Base{addr, KindAbortPlan}}, nil

	case "take-image", "takeimage":
		return &TakeImage{
			Base:      Base{addr, KindTakeImage},
			ImageType: kv["imagetype"],
			ExpDur:    kvFloatOr(kv, "expdur", 0),
			FrameCnt:  kvIntOr(kv, "framecnt", 1),
		}, nil

	case "start-auto", "startauto":
		return &StartAuto{Base{addr, KindStartAuto}}, nil
	case "stop-auto", "stopauto":
		return &StopAuto{Base{addr, KindStopAuto}}, nil
	case "load-plan", "loadplan":
		return &LoadPlan{Base{addr, KindLoadPlan}}, nil
	case "enable":
		return &Enable{Base{addr, KindEnable}}, nil
	case "disable":
		return &Disable{Base{addr, KindDisable}}, nil

	case "guide":
		return &Guide{
			Base: Base{addr, KindGuide},
			DRA:  kvFloatOr(kv, "dra", 0),
			DDec: kvFloatOr(kv, "ddec", 0),
		}, nil

	case "mirror-cover", "mirrorcover":
		return &MirrorCover{Base: Base{addr, KindMirrorCover}, Open: kv["open"] == "1" || strings.EqualFold(kv["open"], "true")}, nil

	default:
		return nil, &Error{Reason: "unknown type: " + typ}
	}
}

func kvCoors(kv map[string]string) (CoorSys, float64, float64, error) {
	var cs CoorSys
	switch strings.ToLower(kv["coorsys"]) {
	case "1", "equatorial", "equ":
		cs = CoorEquatorial
	case "2", "horizontal", "altaz":
		cs = CoorHorizontal
	case "3", "guidetle", "guide":
		cs = CoorGuideTLE
	default:
		return 0, 0, 0, &Error{Reason: "slew-to: unknown coorsys"}
	}
	c1, err1 := strconv.ParseFloat(kv["coor1"], 64)
	c2, err2 := strconv.ParseFloat(kv["coor2"], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, 0, &Error{Reason: "slew-to: bad coordinates"}
	}
	return cs, c1, c2, nil
}

func kvFloats(kv map[string]string, keys ...string) ([]float64, error) {
	out := make([]float64, len(keys))
	for i, k := range keys {
		v, ok := kv[k]
		if !ok || v == "" {
			out[i] = 0
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &Error{Reason: fmt.Sprintf("bad numeric field %q", k)}
		}
		out[i] = f
	}
	return out, nil
}

func kvIntOr(kv map[string]string, key string, def int) int {
	v, ok := kv[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func kvFloatOr(kv map[string]string, key string, def float64) float64 {
	v, ok := kv[key]
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// EncodeKV serializes a Record back into ASCII key/value wire form. It is
// the inverse of DecodeKV for every well-formed record, satisfying the
// round-trip law in spec.md §8.
func EncodeKV(r Record) string {
	var b strings.Builder
	b.WriteString(string(r.Kind()))
	addr := r.Addr()
	fmt.Fprintf(&b, " gid=%s,uid=%s", addr.GID, addr.UID)
	if addr.CID != "" {
		fmt.Fprintf(&b, ",cid=%s", addr.CID)
	}

	switch v := r.(type) {
	case *Register:
		fmt.Fprintf(&b, ",role=%s", v.Role)
	case *MountStatus:
		fmt.Fprintf(&b, ",utc=%s,state=%s,errcode=%d,ra=%.6f,dec=%.6f,azi=%.6f,alt=%.6f",
			v.UTC, v.State, v.ErrCode, v.RA, v.Dec, v.Azi, v.Alt)
	case *CameraStatus:
		fmt.Fprintf(&b, ",utc=%s,state=%s,errcode=%d,coolget=%.2f,filter=%s,seqno=%d,filename=%s",
			v.UTC, v.State, v.ErrCode, v.CoolGet, v.Filter, v.SeqNo, v.Filename)
	case *FocusStatus:
		fmt.Fprintf(&b, ",position=%d", v.Position)
	case *SlewTo:
		fmt.Fprintf(&b, ",coorsys=%d,coor1=%.6f,coor2=%.6f", v.CoorSys, v.Coor1, v.Coor2)
	case *Track:
		fmt.Fprintf(&b, ",object=%s,line1=%s,line2=%s", v.ObjectName, v.Line1, v.Line2)
	case *TakeImage:
		fmt.Fprintf(&b, ",imagetype=%s,expdur=%.3f,framecnt=%d", v.ImageType, v.ExpDur, v.FrameCnt)
	case *Guide:
		fmt.Fprintf(&b, ",dra=%.6f,ddec=%.6f", v.DRA, v.DDec)
	case *MirrorCover:
		if v.Open {
			b.WriteString(",open=1")
		} else {
			b.WriteString(",open=0")
		}
	}
	return b.String()
}
