package easepay

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// initiateResponse is the decoded /payment/initiateLink answer.
type initiateResponse struct {
	OK        bool
	AccessKey string
	Reason    string
}

// statusResponse is what parseStatus extracts from a status endpoint answer.
type statusResponse struct {
	Status    string
	PaymentID string
}

// parseInitiate decodes the initiate answer. The gateway reports success as
// status == 1 with the hosted-page access key in "data"; rejections carry a
// human-readable reason in "data" or "error_desc" instead.
func parseInitiate(raw []byte) (*initiateResponse, error) {
	var out initiateResponse
	d := jx.DecodeBytes(raw)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			ok, err := decodeFlag(d)
			if err != nil {
				return err
			}
			out.OK = ok
			return nil
		case "data":
			if d.Next() == jx.String {
				s, err := d.Str()
				if err != nil {
					return err
				}
				out.AccessKey = s
				out.Reason = s
				return nil
			}
			return d.Skip()
		case "error_desc", "message", "msg":
			if d.Next() == jx.String {
				s, err := d.Str()
				if err != nil {
					return err
				}
				if s != "" {
					out.Reason = s
				}
				return nil
			}
			return d.Skip()
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decoding initiate response")
	}
	if out.OK && out.AccessKey == "" {
		return nil, errors.New("initiate response missing access key")
	}
	if out.Reason == "" {
		out.Reason = "payment initiation declined"
	}
	return &out, nil
}

// parseStatus walks a status endpoint answer. The transaction record lives
// under "msg" or "data" and may be an object or a single-element array
// depending on the endpoint generation; "status" inside it is sometimes a
// string and sometimes a number. An answer without a recognizable
// transaction status is an error, never a guess.
func parseStatus(raw []byte) (*statusResponse, error) {
	var out statusResponse
	d := jx.DecodeBytes(raw)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "msg", "data":
			return decodeTxn(d, &out)
		case "status":
			// Top-level status is the API call result, not the
			// transaction state, except on legacy endpoints where it is
			// the only status present.
			if d.Next() == jx.String {
				s, err := d.Str()
				if err != nil {
					return err
				}
				if out.Status == "" {
					out.Status = s
				}
				return nil
			}
			return d.Skip()
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decoding status response")
	}
	if strings.TrimSpace(out.Status) == "" {
		return nil, errors.New("status response missing transaction status")
	}
	return &out, nil
}

// decodeTxn consumes an object, an array of objects, or a scalar at the
// current position and fills in the transaction status and payment id.
func decodeTxn(d *jx.Decoder, out *statusResponse) error {
	switch d.Next() {
	case jx.Object:
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "status":
				s, err := decodeLooseString(d)
				if err != nil {
					return err
				}
				out.Status = s
				return nil
			case "easepayid", "payment_id", "id":
				s, err := decodeLooseString(d)
				if err != nil {
					return err
				}
				if out.PaymentID == "" {
					out.PaymentID = s
				}
				return nil
			default:
				return d.Skip()
			}
		})
	case jx.Array:
		first := true
		return d.Arr(func(d *jx.Decoder) error {
			if !first {
				return d.Skip()
			}
			first = false
			return decodeTxn(d, out)
		})
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		if out.Status == "" {
			out.Status = s
		}
		return nil
	default:
		return d.Skip()
	}
}

// decodeFlag accepts true/false, 1/0, or "1"/"true".
func decodeFlag(d *jx.Decoder) (bool, error) {
	switch d.Next() {
	case jx.Bool:
		return d.Bool()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return false, err
		}
		v, err := n.Int64()
		if err != nil {
			return false, err
		}
		return v == 1, nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return false, err
		}
		return s == "1" || strings.EqualFold(s, "true"), nil
	default:
		return false, d.Skip()
	}
}

// decodeLooseString reads a string or number as text.
func decodeLooseString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", d.Skip()
	}
}
