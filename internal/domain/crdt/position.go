package crdt

import (
	"fmt"
	"strings"
)

// digits is the base-62 alphabet in byte order, so string comparison of
// ids matches their numeric order.
const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(digits)

func digitOf(c byte) int {
	return strings.IndexByte(digits, c)
}

func validDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if digitOf(s[i]) < 0 {
			return false
		}
	}
	return true
}

// ReplicaTag derives a short base-62 suffix from a replica id. The tag
// never ends in '0', which keeps generated ids usable as upper bounds.
func ReplicaTag(replicaID string) string {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(replicaID); i++ {
		h ^= uint64(replicaID[i])
		h *= 1099511628211
	}
	tag := make([]byte, 6)
	for i := range tag {
		tag[i] = digits[h%uint64(base)]
		h /= uint64(base)
	}
	if tag[len(tag)-1] == '0' {
		tag[len(tag)-1] = '1'
	}
	return string(tag)
}

// PositionBetween returns a new element id ordered strictly between left
// and right. An empty left means the start of the document and an empty
// right its end. The tag makes concurrent inserts at the same spot from
// different replicas distinct.
//
// Bounds may come from replicas using another id alphabet: bytes shared
// with a bound are copied as they are and only the new digits are drawn
// from base-62.
func PositionBetween(left, right, tag string) (string, error) {
	if tag == "" || !validDigits(tag) {
		return "", fmt.Errorf("%w: bad replica tag %q", ErrInvalidPosition, tag)
	}
	if right != "" && left >= right {
		return "", fmt.Errorf("%w: %q is not before %q", ErrInvalidPosition, left, right)
	}

	mid, err := midpoint(left, right)
	if err != nil {
		return "", err
	}
	return mid + tag, nil
}

// midpoint walks both bounds byte by byte. An exhausted left reads as '0'
// so the result never ends in '0'. Once the result is known to be below
// right, the upper bound is lifted and only left constrains the rest; once
// it is above left, only right does.
func midpoint(left, right string) (string, error) {
	var out []byte
	useLeft, useRight := true, right != ""

	for i := 0; ; i++ {
		lo := digits[0]
		if useLeft && i < len(left) {
			lo = left[i]
		}

		hi := -1
		if useRight {
			if i >= len(right) {
				return "", fmt.Errorf("%w: no room between %q and %q", ErrInvalidPosition, left, right)
			}
			hi = int(right[i])
		}

		first, last := digitsBetween(lo, hi)
		switch {
		case first <= last:
			return string(append(out, digits[(first+last)/2])), nil
		case hi < 0 || int(lo) < hi:
			out = append(out, lo)
			useRight = false
		case int(lo) == hi:
			out = append(out, lo)
		default:
			// left is exhausted and right continues below '0'
			out = append(out, byte(hi))
			useLeft = false
		}
	}
}

// digitsBetween returns the index range of digits strictly above lo and
// strictly below hi; a negative hi means no upper bound. The range is
// empty when first > last.
func digitsBetween(lo byte, hi int) (first, last int) {
	first, last = base, -1
	for i := 0; i < base; i++ {
		d := int(digits[i])
		if d <= int(lo) || (hi >= 0 && d >= hi) {
			continue
		}
		if i < first {
			first = i
		}
		last = i
	}
	return first, last
}
