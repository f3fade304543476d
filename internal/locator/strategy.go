// internal/locator/strategy.go
package locator

import (
	"fmt"
	"strings"
)

// Kind tags the variant held by a Strategy.
type Kind int

const (
	// KindAttribute matches an element whose attribute contains a value.
	KindAttribute Kind = iota
	// KindText matches an element whose own text contains a value.
	KindText
	// KindRole matches an ARIA role (or its native tag) with an accessible name.
	KindRole
	// KindXPath is a raw XPath expression.
	KindXPath
	// KindPositional is the focus-advance fallback. It carries no query and
	// is never resolved; the workflow that owns it performs it.
	KindPositional
)

func (k Kind) String() string {
	switch k {
	case KindAttribute:
		return "attribute"
	case KindText:
		return "text"
	case KindRole:
		return "role"
	case KindXPath:
		return "xpath"
	case KindPositional:
		return "positional"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Strategy is one way of finding a logical element.
type Strategy struct {
	Kind      Kind
	Tag       string
	Attribute string
	Role      string
	Value     string
	Expr      string
	// Scope, when set, is a selector the match must be a descendant of.
	Scope string
}

// Attribute matches tag elements whose attr contains value, ignoring case.
// An empty tag matches any element.
func Attribute(tag, attr, value string) Strategy {
	return Strategy{Kind: KindAttribute, Tag: tag, Attribute: attr, Value: value}
}

// Text matches tag elements with an own text node containing value, ignoring case.
func Text(tag, value string) Strategy {
	return Strategy{Kind: KindText, Tag: tag, Value: value}
}

// Role matches elements with the ARIA role (or the equivalent native element)
// whose accessible name contains name. An empty name matches any element of the role.
func Role(role, name string) Strategy {
	return Strategy{Kind: KindRole, Role: role, Value: name}
}

// XPath wraps a raw expression. Expressions starting with "//" or "." are
// relative to the scope when the strategy is scoped.
func XPath(expr string) Strategy {
	return Strategy{Kind: KindXPath, Expr: expr}
}

// Positional marks the keyboard focus-advance fallback.
func Positional() Strategy {
	return Strategy{Kind: KindPositional}
}

// Within scopes the strategy to descendants of the element matched by parent.
func (s Strategy) Within(parent string) Strategy {
	s.Scope = parent
	return s
}

func (s Strategy) String() string {
	switch s.Kind {
	case KindAttribute:
		return fmt.Sprintf("attribute(%s[%s*=%q])", tagOrAny(s.Tag), s.Attribute, s.Value)
	case KindText:
		return fmt.Sprintf("text(%s~%q)", tagOrAny(s.Tag), s.Value)
	case KindRole:
		return fmt.Sprintf("role(%s~%q)", s.Role, s.Value)
	case KindXPath:
		return fmt.Sprintf("xpath(%s)", s.Expr)
	default:
		return s.Kind.String()
	}
}

const (
	upperAlpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlpha = "abcdefghijklmnopqrstuvwxyz"
)

// notHidden drops matches inside explicitly hidden subtrees.
const notHidden = `[not(ancestor-or-self::*[@hidden or @aria-hidden="true" or contains(translate(@style, " ", ""), "display:none")])]`

// roleTags maps ARIA roles to the native elements that carry them implicitly.
var roleTags = map[string][]string{
	"button":    {"button"},
	"link":      {"a"},
	"textbox":   {"input", "textarea"},
	"searchbox": {"input"},
	"row":       {"tr"},
	"listitem":  {"li"},
	"cell":      {"td"},
	"heading":   {"h1", "h2", "h3", "h4", "h5", "h6"},
	"checkbox":  {"input"},
}

// Selector compiles the strategy to an XPath 1.0 expression selecting the
// first match. It reports false for positional strategies and for scoped
// XPath expressions that do not start with "/" or ".".
func (s Strategy) Selector() (string, bool) {
	var expr string
	switch s.Kind {
	case KindAttribute:
		expr = fmt.Sprintf("//%s[%s]", tagOrAny(s.Tag), ContainsFold("@"+s.Attribute, s.Value))
	case KindText:
		expr = fmt.Sprintf("//%s[text()[%s]]", tagOrAny(s.Tag), ContainsFold("normalize-space(.)", s.Value))
	case KindRole:
		expr = "//*[" + rolePredicate(s.Role) + "]"
		if s.Value != "" {
			expr = expr[:len(expr)-1] + " and " + ContainsFold(accessibleName, s.Value) + "]"
		}
	case KindXPath:
		expr = s.Expr
		if s.Scope != "" {
			switch {
			case strings.HasPrefix(expr, "/"):
			case strings.HasPrefix(expr, "."):
				expr = expr[1:]
			default:
				// Function calls and other non-path expressions cannot be
				// anchored to the scope.
				return "", false
			}
			return "((" + s.Scope + ")" + expr + ")[1]", true
		}
		return "(" + expr + ")[1]", true
	default:
		return "", false
	}

	expr += notHidden
	if s.Scope != "" {
		expr = "(" + s.Scope + ")" + expr
	}
	return "(" + expr + ")[1]", true
}

// accessibleName approximates the computed name from the attributes and text
// that usually carry it.
const accessibleName = `concat(@aria-label, " ", @title, " ", @placeholder, " ", @value, " ", normalize-space(.))`

func rolePredicate(role string) string {
	role = strings.ToLower(role)
	clauses := []string{"@role=" + literal(role)}
	for _, tag := range roleTags[role] {
		clause := "self::" + tag
		switch {
		case role == "searchbox":
			clause = `(self::input and @type="search")`
		case role == "checkbox":
			clause = `(self::input and @type="checkbox")`
		case role == "textbox" && tag == "input":
			clause = `(self::input and (not(@type) or @type="text" or @type="email" or @type="password" or @type="search"))`
		case role == "link":
			clause = "(self::a and @href)"
		}
		clauses = append(clauses, clause)
	}
	return "(" + strings.Join(clauses, " or ") + ")"
}

// ContainsFold builds an XPath predicate testing whether subject contains
// value, ignoring ASCII case.
func ContainsFold(subject, value string) string {
	return fmt.Sprintf("contains(translate(%s, %q, %q), %s)", subject, upperAlpha, lowerAlpha, literal(strings.ToLower(value)))
}

func tagOrAny(tag string) string {
	if tag == "" {
		return "*"
	}
	return tag
}

// literal quotes v as an XPath 1.0 string literal. XPath has no escapes, so
// values containing both quote kinds are assembled with concat().
func literal(v string) string {
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	parts := strings.Split(v, `"`)
	pieces := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			pieces = append(pieces, `'"'`)
		}
		if p != "" {
			pieces = append(pieces, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(pieces, ", ") + ")"
}
