package rpcjson

import (
	"fmt"
	"reflect"
	"sync"
)

// methodInfo keeps track of information about each registered method such as
// the parameter information.
type methodInfo struct {
	maxParams    int
	numReqParams int
	numOptParams int
}

var (
	// These fields are used to map the registered types to method names.
	registerLock         sync.RWMutex
	methodToConcreteType = make(map[string]reflect.Type)
	methodToInfo         = make(map[string]methodInfo)
	concreteTypeToMethod = make(map[reflect.Type]string)
)

// RegisterCmd registers a new command type with the package mapped to the
// provided method name.  Commands must be registered before they can be
// marshalled to a JSON-RPC request with MarshalCmd.
//
// The type format is very strict since it needs to be able to automatically
// marshal to and from JSON-RPC 1.0.  The following enumerates the requirements:
//
//   - The provided command must be a single pointer to a struct
//   - All fields must be exported
//   - The order of the positional parameters in the marshalled JSON must
//     match the same order as declared in the struct definition
//   - Fields that are pointers are treated as optional and may only follow
//     other optional fields
func RegisterCmd(method string, cmd interface{}) error {
	registerLock.Lock()
	defer registerLock.Unlock()

	if _, ok := methodToConcreteType[method]; ok {
		str := fmt.Sprintf("method %q is already registered", method)
		return makeError(ErrDuplicateMethod, str)
	}

	// Ensure that the type of the command is a pointer to a struct.
	rtp := reflect.TypeOf(cmd)
	if rtp.Kind() != reflect.Ptr {
		str := fmt.Sprintf("command %q type must be a pointer (got %v)",
			method, rtp.Kind())
		return makeError(ErrInvalidType, str)
	}
	rt := rtp.Elem()
	if rt.Kind() != reflect.Struct {
		str := fmt.Sprintf("command %q type must be a pointer to a "+
			"struct (got pointer to %v)", method, rt.Kind())
		return makeError(ErrInvalidType, str)
	}

	// Count the number of required and optional parameters while ensuring
	// optional (pointer) fields only follow other optional fields.
	numFields := rt.NumField()
	var numReqParams, numOptParams int
	for i := 0; i < numFields; i++ {
		rtf := rt.Field(i)
		if rtf.Type.Kind() == reflect.Ptr {
			numOptParams++
			continue
		}
		if numOptParams > 0 {
			str := fmt.Sprintf("command %q parameter #%d (%s) is "+
				"required, but preceded by an optional parameter",
				method, i+1, rtf.Name)
			return makeError(ErrInvalidType, str)
		}
		numReqParams++
	}

	// Update the registration maps.
	methodToConcreteType[method] = rtp
	methodToInfo[method] = methodInfo{
		maxParams:    numFields,
		numReqParams: numReqParams,
		numOptParams: numOptParams,
	}
	concreteTypeToMethod[rtp] = method
	return nil
}

// MustRegisterCmd performs the same function as RegisterCmd except it panics
// if there is an error.  This should only be called from package init
// functions.
func MustRegisterCmd(method string, cmd interface{}) {
	if err := RegisterCmd(method, cmd); err != nil {
		panic(fmt.Sprintf("failed to register type %q: %v\n", method,
			err))
	}
}
