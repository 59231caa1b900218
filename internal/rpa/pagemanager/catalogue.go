package pagemanager

// Catalogued page actions. Every one of them is routed through the hook
// pipeline by an instrumented page.
const (
	ActionGoto             = "goto"
	ActionReload           = "reload"
	ActionClick            = "click"
	ActionFill             = "fill"
	ActionType             = "type"
	ActionPress            = "press"
	ActionCheck            = "check"
	ActionUncheck          = "uncheck"
	ActionSelectOption     = "select_option"
	ActionSetInputFiles    = "set_input_files"
	ActionFocus            = "focus"
	ActionBlur             = "blur"
	ActionDragAndDrop      = "drag_and_drop"
	ActionHover            = "hover"
	ActionWaitForSelector  = "wait_for_selector"
	ActionWaitForFunction  = "wait_for_function"
	ActionEvaluate         = "evaluate"
	ActionQuerySelector    = "query_selector"
	ActionQuerySelectorAll = "query_selector_all"
)

// Catalogue lists the intercepted actions.
var Catalogue = []string{
	ActionClick, ActionFill, ActionType, ActionPress, ActionCheck, ActionUncheck,
	ActionSelectOption, ActionSetInputFiles, ActionFocus, ActionBlur,
	ActionDragAndDrop, ActionHover,
	ActionGoto, ActionReload, ActionWaitForSelector, ActionWaitForFunction,
	ActionEvaluate, ActionQuerySelector, ActionQuerySelectorAll,
}

// IsCatalogued reports whether action is intercepted.
func IsCatalogued(action string) bool {
	for _, a := range Catalogue {
		if a == action {
			return true
		}
	}
	return false
}
