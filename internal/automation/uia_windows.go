//go:build windows
// +build windows

package automation

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

// CLSID_CUIAutomation / IID_IUIAutomation from uiautomationclient.idl.
var (
	clsidCUIAutomation = ole.NewGUID("{FF48DBA4-60EF-4201-AA87-54103EEF594E}")
	iidIUIAutomation   = ole.NewGUID("{30CBE57D-D9D0-452A-AB13-7AC5AC4825EE}")
)

// UIA property ids (UIAutomationClient.h).
const (
	uiaBoundingRectangleProp   = 30001
	uiaControlTypeProp         = 30003
	uiaNameProp                = 30005
	uiaHasKeyboardFocusProp    = 30008
	uiaIsKeyboardFocusableProp = 30009
	uiaIsEnabledProp           = 30010
	uiaAutomationIDProp        = 30011
	uiaClassNameProp           = 30012
	uiaIsOffscreenProp         = 30022
	uiaValueValueProp          = 30045
)

// treeScopeChildren limits FindAll to direct children so the walk
// controls its own recursion depth.
const treeScopeChildren = 2

// controlTypeNames maps UIA control type ids to the names pywinauto
// reports, which is what operators and the scorer expect.
var controlTypeNames = map[int64]string{
	50000: "Button",
	50001: "Calendar",
	50002: "CheckBox",
	50003: "ComboBox",
	50004: "Edit",
	50005: "Hyperlink",
	50006: "Image",
	50007: "ListItem",
	50008: "List",
	50009: "Menu",
	50010: "MenuBar",
	50011: "MenuItem",
	50012: "ProgressBar",
	50013: "RadioButton",
	50014: "ScrollBar",
	50015: "Slider",
	50016: "Spinner",
	50017: "StatusBar",
	50018: "Tab",
	50019: "TabItem",
	50020: "Text",
	50021: "ToolBar",
	50022: "ToolTip",
	50023: "Tree",
	50024: "TreeItem",
	50025: "Custom",
	50026: "Group",
	50027: "Thumb",
	50028: "DataGrid",
	50029: "DataItem",
	50030: "Document",
	50031: "SplitButton",
	50032: "Window",
	50033: "Pane",
	50034: "Header",
	50035: "HeaderItem",
	50036: "Table",
	50037: "TitleBar",
	50038: "Separator",
}

// iUIAutomation wraps the IUIAutomation COM interface.
type iUIAutomation struct {
	ole.IUnknown
}

type iUIAutomationVtbl struct {
	ole.IUnknownVtbl
	CompareElements             uintptr
	CompareRuntimeIds           uintptr
	GetRootElement              uintptr
	ElementFromHandle           uintptr
	ElementFromPoint            uintptr
	GetFocusedElement           uintptr
	GetRootElementBuildCache    uintptr
	ElementFromHandleBuildCache uintptr
	ElementFromPointBuildCache  uintptr
	GetFocusedElementBuildCache uintptr
	CreateTreeWalker            uintptr
	GetControlViewWalker        uintptr
	GetContentViewWalker        uintptr
	GetRawViewWalker            uintptr
	GetRawViewCondition         uintptr
	GetControlViewCondition     uintptr
	GetContentViewCondition     uintptr
	CreateCacheRequest          uintptr
	CreateTrueCondition         uintptr
}

func (a *iUIAutomation) vtbl() *iUIAutomationVtbl {
	return (*iUIAutomationVtbl)(unsafe.Pointer(a.RawVTable))
}

// iUIAutomationElement wraps IUIAutomationElement. Only the vtable slots
// up to FindAll/GetCurrentPropertyValue are used; the struct lists every
// preceding slot so the offsets line up with the IDL.
type iUIAutomationElement struct {
	ole.IUnknown
}

type iUIAutomationElementVtbl struct {
	ole.IUnknownVtbl
	SetFocus                uintptr
	GetRuntimeId            uintptr
	FindFirst               uintptr
	FindAll                 uintptr
	FindFirstBuildCache     uintptr
	FindAllBuildCache       uintptr
	BuildUpdatedCache       uintptr
	GetCurrentPropertyValue uintptr
}

func (e *iUIAutomationElement) vtbl() *iUIAutomationElementVtbl {
	return (*iUIAutomationElementVtbl)(unsafe.Pointer(e.RawVTable))
}

// iUIAutomationElementArray wraps IUIAutomationElementArray.
type iUIAutomationElementArray struct {
	ole.IUnknown
}

type iUIAutomationElementArrayVtbl struct {
	ole.IUnknownVtbl
	GetLength  uintptr
	GetElement uintptr
}

func (a *iUIAutomationElementArray) vtbl() *iUIAutomationElementArrayVtbl {
	return (*iUIAutomationElementArrayVtbl)(unsafe.Pointer(a.RawVTable))
}

// uiaProvider implements UIAProvider over the COM automation object.
type uiaProvider struct {
	auto          *iUIAutomation
	trueCondition *ole.IUnknown
}

func newUIAProvider() (*uiaProvider, error) {
	unknown, err := ole.CreateInstance(clsidCUIAutomation, iidIUIAutomation)
	if err != nil {
		return nil, fmt.Errorf("create CUIAutomation: %w", err)
	}
	auto := (*iUIAutomation)(unsafe.Pointer(unknown))

	var cond *ole.IUnknown
	hr, _, _ := syscall.SyscallN(auto.vtbl().CreateTrueCondition,
		uintptr(unsafe.Pointer(auto)),
		uintptr(unsafe.Pointer(&cond)))
	if hr != 0 {
		auto.Release()
		return nil, fmt.Errorf("CreateTrueCondition: hr=0x%x", hr)
	}

	return &uiaProvider{auto: auto, trueCondition: cond}, nil
}

// RootElement opens the accessibility tree of a window.
func (p *uiaProvider) RootElement(hwnd uintptr) (Element, error) {
	var raw *iUIAutomationElement
	hr, _, _ := syscall.SyscallN(p.auto.vtbl().ElementFromHandle,
		uintptr(unsafe.Pointer(p.auto)),
		hwnd,
		uintptr(unsafe.Pointer(&raw)))
	if hr != 0 || raw == nil {
		return nil, fmt.Errorf("ElementFromHandle(%d): hr=0x%x", hwnd, hr)
	}
	return &uiaElement{raw: raw, provider: p}, nil
}

// FocusedElement returns the element with keyboard focus.
func (p *uiaProvider) FocusedElement() (*uiaElement, error) {
	var raw *iUIAutomationElement
	hr, _, _ := syscall.SyscallN(p.auto.vtbl().GetFocusedElement,
		uintptr(unsafe.Pointer(p.auto)),
		uintptr(unsafe.Pointer(&raw)))
	if hr != 0 || raw == nil {
		return nil, fmt.Errorf("GetFocusedElement: hr=0x%x", hr)
	}
	return &uiaElement{raw: raw, provider: p}, nil
}

// uiaElement adapts one IUIAutomationElement to the Element interface.
type uiaElement struct {
	raw      *iUIAutomationElement
	provider *uiaProvider
}

func (e *uiaElement) release() {
	if e.raw != nil {
		e.raw.Release()
		e.raw = nil
	}
}

// property fetches one property as a VARIANT.
func (e *uiaElement) property(propID int) (*ole.VARIANT, error) {
	var v ole.VARIANT
	ole.VariantInit(&v)
	hr, _, _ := syscall.SyscallN(e.raw.vtbl().GetCurrentPropertyValue,
		uintptr(unsafe.Pointer(e.raw)),
		uintptr(propID),
		uintptr(unsafe.Pointer(&v)))
	if hr != 0 {
		return nil, fmt.Errorf("GetCurrentPropertyValue(%d): hr=0x%x", propID, hr)
	}
	return &v, nil
}

func (e *uiaElement) stringProp(propID int) string {
	v, err := e.property(propID)
	if err != nil {
		return ""
	}
	defer v.Clear()
	if v.VT == ole.VT_BSTR {
		return v.ToString()
	}
	return ""
}

func (e *uiaElement) boolProp(propID int) bool {
	v, err := e.property(propID)
	if err != nil {
		return false
	}
	defer v.Clear()
	if v.VT == ole.VT_BOOL {
		return v.Val != 0
	}
	return false
}

func (e *uiaElement) ControlType() string {
	v, err := e.property(uiaControlTypeProp)
	if err != nil {
		return ""
	}
	defer v.Clear()
	id := v.Val
	if name, ok := controlTypeNames[id]; ok {
		return name
	}
	return fmt.Sprintf("ControlType%d", id)
}

func (e *uiaElement) Name() string         { return e.stringProp(uiaNameProp) }
func (e *uiaElement) AutomationID() string { return e.stringProp(uiaAutomationIDProp) }
func (e *uiaElement) ClassName() string    { return e.stringProp(uiaClassNameProp) }
func (e *uiaElement) IsEnabled() bool      { return e.boolProp(uiaIsEnabledProp) }
func (e *uiaElement) IsVisible() bool      { return !e.boolProp(uiaIsOffscreenProp) }

func (e *uiaElement) IsKeyboardFocusable() bool { return e.boolProp(uiaIsKeyboardFocusableProp) }
func (e *uiaElement) HasKeyboardFocus() bool    { return e.boolProp(uiaHasKeyboardFocusProp) }

// Rect decodes the bounding-rectangle property, a VT_ARRAY|VT_R8 of
// [left, top, width, height].
func (e *uiaElement) Rect() (Rect, error) {
	v, err := e.property(uiaBoundingRectangleProp)
	if err != nil {
		return Rect{}, err
	}
	defer v.Clear()

	if v.VT != ole.VT_ARRAY|ole.VT_R8 {
		return Rect{}, fmt.Errorf("bounding rectangle has VT 0x%x", v.VT)
	}
	sa := ole.SafeArrayConversion{Array: (*ole.SafeArray)(unsafe.Pointer(uintptr(v.Val)))}
	values := sa.ToValueArray()
	if len(values) != 4 {
		return Rect{}, fmt.Errorf("bounding rectangle has %d members", len(values))
	}
	nums := make([]float64, 4)
	for i, raw := range values {
		f, ok := raw.(float64)
		if !ok {
			return Rect{}, fmt.Errorf("bounding rectangle member %d is %T", i, raw)
		}
		nums[i] = f
	}
	return Rect{
		Left:   int(nums[0]),
		Top:    int(nums[1]),
		Right:  int(nums[0] + nums[2]),
		Bottom: int(nums[1] + nums[3]),
	}, nil
}

func (e *uiaElement) Value() (string, bool) {
	v, err := e.property(uiaValueValueProp)
	if err != nil {
		return "", false
	}
	defer v.Clear()
	if v.VT != ole.VT_BSTR {
		return "", false
	}
	return v.ToString(), true
}

func (e *uiaElement) Texts() []string {
	// The name is the only text UIA exposes uniformly; richer text
	// requires the TextPattern, which Electron rarely implements.
	if name := e.Name(); name != "" {
		return []string{name}
	}
	return nil
}

// Children finds the element's direct children with a TrueCondition
// FindAll, scoped to children only so recursion depth stays with the
// caller.
func (e *uiaElement) Children() ([]Element, error) {
	var arr *iUIAutomationElementArray
	hr, _, _ := syscall.SyscallN(e.raw.vtbl().FindAll,
		uintptr(unsafe.Pointer(e.raw)),
		uintptr(treeScopeChildren),
		uintptr(unsafe.Pointer(e.provider.trueCondition)),
		uintptr(unsafe.Pointer(&arr)))
	if hr != 0 {
		return nil, fmt.Errorf("FindAll children: hr=0x%x", hr)
	}
	if arr == nil {
		return nil, nil
	}
	defer arr.Release()

	var length int32
	hr, _, _ = syscall.SyscallN(arr.vtbl().GetLength,
		uintptr(unsafe.Pointer(arr)),
		uintptr(unsafe.Pointer(&length)))
	if hr != 0 {
		return nil, fmt.Errorf("element array length: hr=0x%x", hr)
	}

	children := make([]Element, 0, length)
	for i := int32(0); i < length; i++ {
		var raw *iUIAutomationElement
		hr, _, _ = syscall.SyscallN(arr.vtbl().GetElement,
			uintptr(unsafe.Pointer(arr)),
			uintptr(i),
			uintptr(unsafe.Pointer(&raw)))
		if hr != 0 || raw == nil {
			continue
		}
		children = append(children, &uiaElement{raw: raw, provider: e.provider})
	}
	return children, nil
}
