package engine

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestWrapValueNil(t *testing.T) {
	if wrapValue(nil) != nil {
		t.Error("wrapValue(nil) != nil")
	}
	if wrapValue(lua.LNil) != nil {
		t.Error("wrapValue(LNil) != nil")
	}
}

func TestValueScalars(t *testing.T) {
	tests := []struct {
		lv          lua.LValue
		wantType    string
		wantDisplay string
	}{
		{lua.LNumber(42), "number", "42"},
		{lua.LString("hi"), "string", `"hi"`},
		{lua.LTrue, "boolean", "true"},
	}

	for _, tt := range tests {
		v := wrapValue(tt.lv)
		if v == nil {
			t.Fatalf("wrapValue(%v) = nil", tt.lv)
		}
		if got := v.TypeName(); got != tt.wantType {
			t.Errorf("TypeName(%v) = %q, want %q", tt.lv, got, tt.wantType)
		}
		if got := v.Display(); got != tt.wantDisplay {
			t.Errorf("Display(%v) = %q, want %q", tt.lv, got, tt.wantDisplay)
		}
		if v.Children() != nil {
			t.Errorf("scalar %v has children", tt.lv)
		}
	}
}

func TestValueTableChildren(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.Append(lua.LNumber(10))
	tbl.Append(lua.LNumber(20))
	tbl.RawSetString("name", lua.LString("job"))
	tbl.RawSetString("active", lua.LTrue)

	children := wrapValue(tbl).Children()
	if len(children) != 4 {
		t.Fatalf("got %d children, want 4", len(children))
	}

	// Array part first, in index order; keyed entries after, sorted.
	wantNames := []string{"[1]", "[2]", "active", "name"}
	for i, want := range wantNames {
		if children[i].Name != want {
			t.Errorf("child %d = %q, want %q", i, children[i].Name, want)
		}
	}
	if children[0].Value.Display() != "10" {
		t.Errorf("child [1] = %q, want 10", children[0].Value.Display())
	}
	if children[3].Value.Display() != `"job"` {
		t.Errorf("child name = %q, want quoted string", children[3].Value.Display())
	}
}

func TestValueNestedTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	inner := L.NewTable()
	inner.RawSetString("x", lua.LNumber(1))
	outer := L.NewTable()
	outer.RawSetString("inner", inner)

	children := wrapValue(outer).Children()
	if len(children) != 1 || children[0].Name != "inner" {
		t.Fatalf("children = %v", children)
	}

	grand := children[0].Value.Children()
	if len(grand) != 1 || grand[0].Name != "x" {
		t.Errorf("grandchildren = %v", grand)
	}
}
