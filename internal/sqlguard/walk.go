package sqlguard

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// walk visits m and every message reachable from it, depth first. Returning
// false from visit skips the children of that message.
func walk(m protoreflect.Message, visit func(protoreflect.Message) bool) {
	if m == nil || !m.IsValid() {
		return
	}
	if !visit(m) {
		return
	}
	walkChildren(m, visit, "")
}

// walkChildren walks every message field of m except the one named skip.
func walkChildren(m protoreflect.Message, visit func(protoreflect.Message) bool, skip protoreflect.Name) {
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind && fd.Kind() != protoreflect.GroupKind {
			return true
		}
		if skip != "" && fd.Name() == skip {
			return true
		}
		switch {
		case fd.IsList():
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walk(list.Get(i).Message(), visit)
			}
		case fd.IsMap():
		default:
			walk(v.Message(), visit)
		}
		return true
	})
}

// unwrapNode returns the concrete message held in a Node's oneof.
func unwrapNode(node *pg_query.Node) protoreflect.Message {
	if node == nil {
		return nil
	}
	m := node.ProtoReflect()
	oneof := m.Descriptor().Oneofs().ByName("node")
	if oneof == nil {
		return nil
	}
	fd := m.WhichOneof(oneof)
	if fd == nil {
		return nil
	}
	return m.Get(fd).Message()
}

func messageName(m protoreflect.Message) string {
	return string(m.Descriptor().Name())
}

// stringFields returns the String values of a name list such as a
// ColumnRef's fields or a FuncCall's funcname. A star is reported as "*".
func stringFields(nodes []*pg_query.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		switch {
		case node.GetString_() != nil:
			out = append(out, node.GetString_().GetSval())
		case node.GetAStar() != nil:
			out = append(out, "*")
		default:
			out = append(out, "")
		}
	}
	return out
}

// nameSet is a case-insensitive set of identifiers.
type nameSet map[string]struct{}

func (s nameSet) add(name string) {
	if name != "" {
		s[strings.ToLower(name)] = struct{}{}
	}
}

func (s nameSet) has(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}
