package chatrpc

var ToStatus = toStatus
